package proxy

import (
	"net/http"

	"github.com/akiojin/llm-router/internal/protocol"
)

// HandleChat implements the Ollama-native POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, route{requestType: protocol.RequestChat, upstreamPath: "/api/chat", openAIShape: false})
}

// HandleGenerate implements the Ollama-native POST /api/generate.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, route{requestType: protocol.RequestGenerate, upstreamPath: "/api/generate", openAIShape: false})
}

// HandleChatCompletions implements the OpenAI-compatible POST
// /v1/chat/completions.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, route{requestType: protocol.RequestChat, upstreamPath: "/v1/chat/completions", openAIShape: true})
}

// HandleCompletions implements the OpenAI-compatible POST /v1/completions.
func (h *Handler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, route{requestType: protocol.RequestGenerate, upstreamPath: "/v1/completions", openAIShape: true})
}

// HandleEmbeddings implements the OpenAI-compatible POST /v1/embeddings.
func (h *Handler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, route{requestType: protocol.RequestEmbeddings, upstreamPath: "/v1/embeddings", openAIShape: true})
}

// Package proxy implements the OpenAI/Ollama-compatible inference proxy: it
// selects an agent for the requested model, forwards the client's JSON body
// verbatim to that agent's runtime API, and streams or buffers the response
// back depending on the upstream Content-Type. It never parses or rewrites
// chat/generate/embeddings payloads — only the "model" field is inspected,
// for agent selection.
package proxy

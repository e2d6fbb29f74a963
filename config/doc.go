/*
Package config provides configuration management for the llm-router daemon.

# Overview

Configuration is merged in priority order: built-in defaults, an optional
YAML file, then environment variables. Most environment variables carry
the LLM_ROUTER_ prefix; AUTH_DISABLED, HEALTH_CHECK_INTERVAL and
NODE_TIMEOUT are read without it. A short list of legacy names (JWT_SECRET,
LLM_LOG_DIR) is accepted as a fallback for prefixed variables, with a
deprecation warning printed to stderr.

# Core types

  - Config: top-level aggregate — Server, Auth, Health, Log, Data,
    Database, Redis, Telemetry sections.
  - Loader: builder-style loader, chain WithConfigPath/WithValidator
    before calling Load.

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("router.yaml").
		Load()
*/
package config

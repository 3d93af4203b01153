// Package llm implements the cascade's AI tier on top of hosted language
// models. It supports Anthropic and OpenAI, with client-side rate limiting
// and a short-lived suggestion cache.
package llm

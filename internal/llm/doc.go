// Package llm adapts the model provider behind the InvokeLLM effect. The
// Anthropic client is the production implementation; tests use the in-memory
// scripted client.
package llm

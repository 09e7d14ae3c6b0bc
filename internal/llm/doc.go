// Package llm talks to an OpenAI-style chat-completions endpoint with the
// assistant's mail tools attached, and validates tool-call arguments against
// the declared schemas.
package llm

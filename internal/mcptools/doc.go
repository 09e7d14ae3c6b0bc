// Package mcptools exposes the assistant's mail actions as MCP tools.
//
// The same six tools the chat router dispatches are registered on an MCP
// server for stdio clients, plus an authorize tool that completes the
// OAuth flow from a pasted authorization code. Stdio has no cookies, so
// all tools operate on a single local session.
package mcptools

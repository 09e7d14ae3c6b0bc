// Package router turns one chat exchange into at most one mail action: it
// sends the conversation to the model, validates the first tool call the
// model asks for, and dispatches it to the session's mail client or rule
// reconciler.
package router

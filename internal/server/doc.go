// Package server exposes the assistant over HTTP: the Google authorization
// flow, direct mail endpoints, sender-rule endpoints, and the chat endpoint
// that drives the tool-call router. Sessions are resolved from an HttpOnly
// cookie; every mail operation builds its clients from the session's
// credential on the way in.
package server

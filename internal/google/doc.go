// Package google implements the Google OAuth2 authorization flow: building
// consent URLs, exchanging authorization codes, and refreshing access tokens
// for stored sessions.
package google

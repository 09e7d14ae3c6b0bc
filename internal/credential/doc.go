// Package credential manages the OAuth credential lifecycle: the in-memory
// session-keyed cache, the durable SQLite record behind it, and the manager
// that produces guaranteed-valid credentials, refreshing and persisting them
// as they expire.
//
// The store is keyed by session so that concurrent requests from different
// users never share token state. The persisted record preserves the
// provider's field names (access_token, refresh_token, expiry_date in epoch
// milliseconds).
package credential

package credential

import "errors"

// Error kinds for credential failures. Callers match these with errors.Is to
// map failures to user-facing responses.
var (
	// ErrUnauthenticated reports that no access token is stored for the
	// session at all. The caller should start the authorization flow.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrReauthRequired reports that the stored credential is expired and
	// cannot be renewed: either no refresh token exists, or the refresh
	// exchange was rejected. The user must re-authenticate.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrNotFound reports that the durable store holds no record for the
	// session.
	ErrNotFound = errors.New("credential record not found")
)

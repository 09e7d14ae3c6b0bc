package credential

import "time"

// Credential is the OAuth token pair used to authenticate against the mail
// provider on behalf of one session.
type Credential struct {
	AccessToken  string
	RefreshToken string

	// ExpiryDate is the access token expiry as epoch milliseconds, matching
	// the provider's wire format. Zero means the provider did not report an
	// expiry, in which case the token is treated as valid until proven
	// otherwise.
	ExpiryDate int64
}

// HasAccessToken reports whether any access token is stored at all.
func (c Credential) HasAccessToken() bool {
	return c.AccessToken != ""
}

// Expired reports whether the access token's expiry has passed at the given
// instant. A credential with no recorded expiry is never considered expired.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiryDate != 0 && !now.Before(c.Expiry())
}

// Valid reports whether the credential can be used as-is: an access token is
// present and not expired.
func (c Credential) Valid(now time.Time) bool {
	return c.HasAccessToken() && !c.Expired(now)
}

// Renewable reports whether the credential can be refreshed once expired.
// Without a refresh token, expiry is terminal and requires re-authentication.
func (c Credential) Renewable() bool {
	return c.RefreshToken != ""
}

// Expiry returns the expiry as a time.Time. The zero time is returned when no
// expiry was recorded.
func (c Credential) Expiry() time.Time {
	if c.ExpiryDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

package connector

import "time"

// tokenSkew renews the session this long before the server-side expiry so
// a request never goes out with a token about to die mid-flight.
const tokenSkew = 2 * time.Minute

// SessionToken is an expiring credential issued by the upstream search
// head. The zero value is expired.
type SessionToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at the given instant.
func (t SessionToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-tokenSkew))
}

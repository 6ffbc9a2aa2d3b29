package models

import "time"

// CurrentHashVersion tags credentials hashed with the current parameters
// (bcrypt cost 12). Credentials carrying an older version are transparently
// re-hashed on the next successful login.
const CurrentHashVersion = 1

// Credential stores the salted password hash for an account. At most one
// credential exists per account; the plaintext password is never stored.
type Credential struct {
	AccountID   string
	Hash        []byte
	HashVersion int
	UpdatedAt   time.Time
}

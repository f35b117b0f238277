package model

import "time"

// RefreshToken is one link in a rotating refresh chain. Exactly one
// unconsumed, unrevoked link exists per chain at any time; consuming it
// issues the next link. Presenting an already-consumed link is treated as
// replay and revokes the whole chain. The raw token is never stored; only
// its SHA-256 hash persists.
type RefreshToken struct {
	ID        int64     `json:"id" db:"id"`
	ChainID   string    `json:"chain_id" db:"chain_id"`
	Seq       int       `json:"seq" db:"seq"`
	TokenHash string    `json:"-" db:"token_hash"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Consumed  bool      `json:"consumed" db:"consumed"`
	Revoked   bool      `json:"revoked" db:"revoked"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the link's own TTL has lapsed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenPair is the result of a login or a successful rotation: a short-lived
// signed access token plus the next refresh link of the chain.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // access token TTL in seconds
}

package model

import "time"

// Credential is one YouTube Data API key with its daily usage ledger.
type Credential struct {
	Index      int
	Secret     string `json:"-"`
	Identifier string
	QuotaUsed  int
	LastReset  time.Time
	Active     bool
	ErrorCount int
	LastUsed   *time.Time
	LastError  *time.Time
}

// Fingerprint is the short, loggable identifier for a secret.
func Fingerprint(secret string) string {
	if len(secret) <= 6 {
		return secret
	}
	return secret[len(secret)-6:]
}

type QuotaStatus struct {
	Index      int        `json:"index"`
	Identifier string     `json:"identifier"`
	Used       int        `json:"used"`
	Remaining  int        `json:"remaining"`
	Active     bool       `json:"active"`
	Current    bool       `json:"current"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
	ErrorCount int        `json:"errorCount"`
}

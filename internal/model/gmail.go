package model

import "time"

// GmailToken is a user's stored Gmail OAuth grant. Token fields hold sealed
// ciphertext, never plaintext.
type GmailToken struct {
	UserID       string
	TenantID     string
	Email        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	ConnectedAt  time.Time
	UpdatedAt    time.Time
}

// GmailStatus is the response of the Gmail status route.
type GmailStatus struct {
	Connected   bool       `json:"connected"`
	Email       string     `json:"email,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

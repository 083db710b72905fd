package model

import "time"

// PairRequest is the body of POST /pair.
type PairRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId"`
}

// PairResponse is returned once the pairing code has been issued.
type PairResponse struct {
	Success     bool   `json:"success"`
	PairingCode string `json:"pairingCode"`
	SessionID   string `json:"sessionId"`
}

// StatusResponse is returned by GET /status/{sessionId}.
type StatusResponse struct {
	Success     bool   `json:"success"`
	Connected   bool   `json:"connected"`
	State       string `json:"state"`
	PairingCode string `json:"pairingCode,omitempty"`
	AppName     string `json:"appName,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SessionSummary is the admin view of one registered session. Phone numbers
// are masked before they reach this struct.
type SessionSummary struct {
	SessionID   string     `json:"sessionId"`
	UserID      string     `json:"userId"`
	PhoneNumber string     `json:"phoneNumber"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	DeployedAt  *time.Time `json:"deployedAt,omitempty"`
}

package model

import (
	"time"
)

// SessionRecord is the durable status-store row mirroring a pairing
// session. The in-memory session is authoritative while active; the record
// is a side-effecting sink updated on each transition.
type SessionRecord struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"userId"`
	PhoneNumber string     `db:"phone_number" json:"phoneNumber"`
	Status      string     `db:"status" json:"status"`
	PairingCode *string    `db:"pairing_code" json:"pairingCode,omitempty"`
	AppName     *string    `db:"app_name" json:"appName,omitempty"`
	LastError   *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	ConnectedAt *time.Time `db:"connected_at" json:"connectedAt,omitempty"`
	DeployedAt  *time.Time `db:"deployed_at" json:"deployedAt,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

type CreateSessionRecordParams struct {
	ID          string
	UserID      string
	PhoneNumber string
	Status      string
}

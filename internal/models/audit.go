package models

import "time"

// AuditAction constants represent the mutating actions that are logged.
const (
	AuditActionCreate  = "CREATE"
	AuditActionUpdate  = "UPDATE"
	AuditActionDelete  = "DELETE"
	AuditActionLogin   = "LOGIN"
	AuditActionLogout  = "LOGOUT"
	AuditActionApprove = "APPROVE"
	AuditActionReject  = "REJECT"
)

// AuditLog represents an append-only audit trail record. Rows are never
// updated or deleted by application code.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Entity    string    `db:"entity" json:"entity"`
	EntityID  *string   `db:"entity_id" json:"entity_id,omitempty"`
	OldValues []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditLogFilter scopes audit log listings.
type AuditLogFilter struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Page     int
	PageSize int
}

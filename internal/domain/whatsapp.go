package domain

import "time"

// WaAccountSnapshot is the persisted mirror of one backend WhatsApp account,
// refreshed on every authoritative fetch. It warms the registry on restart
// and feeds the connection reports.
type WaAccountSnapshot struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	AccountID   string    `json:"account_id" gorm:"uniqueIndex"`
	ServerID    string    `json:"server_id" gorm:"index"` // backend row id when it differs from account_id
	UserID      string    `json:"user_id" gorm:"index"`
	OrgID       string    `json:"org_id" gorm:"index"`
	Name        string    `json:"name"`
	Status      string    `json:"status"` // disconnected, connecting, connected, error
	PhoneNumber string    `json:"phone_number"`
	FetchedAt   time.Time `json:"fetched_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (WaAccountSnapshot) TableName() string {
	return "wa_account_snapshot"
}

// WaEventLog records every realtime event and local action applied to the
// registry. Retention is enforced by a daily job.
type WaEventLog struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	AccountID   string    `json:"account_id" gorm:"index"`
	AccountName string    `json:"account_name"`
	Source      string    `json:"source"` // realtime, rest, reconcile, action
	Event       string    `json:"event"`  // qr-code, connected, disconnected, connect, throttle-reject, ...
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Detail      string    `json:"detail"`
	EventTime   time.Time `json:"event_time" gorm:"index"`
}

func (WaEventLog) TableName() string {
	return "wa_event_log"
}

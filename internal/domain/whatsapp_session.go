package domain

import "time"

// WhatsAppSession is the last known lifecycle state of a tenant, kept so
// the server can resume logged-in tenants after a restart.
type WhatsAppSession struct {
	Tenant    string    `json:"session" gorm:"primaryKey;size:64"`
	Status    string    `json:"status" gorm:"size:32;index"`
	Detail    string    `json:"detail"`
	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppSession) TableName() string {
	return "whatsapp_session"
}

// WhatsAppSessionEvent is one audited lifecycle transition or send outcome.
type WhatsAppSessionEvent struct {
	ID       int64     `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	Tenant   string    `json:"session" gorm:"size:64;index:idx_session_event_tenant_time,priority:1"`
	Kind     string    `json:"kind" gorm:"size:16"` // transition or delivery
	From     string    `json:"from,omitempty" gorm:"column:from_status;size:32"`
	Status   string    `json:"status" gorm:"size:32"`
	Detail   string    `json:"detail,omitempty"`
	Peer     string    `json:"peer,omitempty" gorm:"size:128"`
	SendType string    `json:"send_type,omitempty" gorm:"size:16"`
	Filename string    `json:"filename,omitempty"`
	OptTime  time.Time `json:"opt_time" gorm:"index:idx_session_event_tenant_time,priority:2"`
}

func (WhatsAppSessionEvent) TableName() string {
	return "whatsapp_session_event"
}

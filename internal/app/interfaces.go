package app

import (
	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wahub/config"
	"github.com/talkincode/wahub/internal/audit"
	"github.com/talkincode/wahub/internal/session"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
	Jobs() []string
	RunJob(name string) error
}

// SessionProvider provides the tenant session manager
type SessionProvider interface {
	Sessions() *session.Manager
}

// EventLogProvider provides the audited session event log
type EventLogProvider interface {
	EventLog() *audit.Recorder
}

// BusProvider provides the internal event bus
type BusProvider interface {
	Bus() EventBus.Bus
}

// MetricsProvider provides the session layer's prometheus registry
type MetricsProvider interface {
	MetricsRegistry() *prometheus.Registry
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	SessionProvider
	EventLogProvider
	BusProvider
	MetricsProvider

	MigrateDB(track bool) error
}

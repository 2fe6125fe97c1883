package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wahub/config"
	"github.com/talkincode/wahub/internal/audit"
	"github.com/talkincode/wahub/internal/domain"
	"github.com/talkincode/wahub/internal/session"
	"github.com/talkincode/wahub/internal/whatsapp"
	"github.com/talkincode/wahub/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig  *config.AppConfig
	gormDB     *gorm.DB
	sched      *cron.Cron
	bus        EventBus.Bus
	sessions   *session.Manager
	eventLog   *audit.Recorder
	webhook    *audit.Webhook
	metricsReg *prometheus.Registry
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ SessionProvider   = (*Application)(nil)
	_ EventLogProvider  = (*Application)(nil)
	_ BusProvider       = (*Application)(nil)
	_ MetricsProvider   = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig, bus: EventBus.New()}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Bus() EventBus.Bus {
	return a.bus
}

func (a *Application) Sessions() *session.Manager {
	return a.sessions
}

func (a *Application) EventLog() *audit.Recorder {
	return a.eventLog
}

// MetricsRegistry holds the session layer's prometheus collectors.
func (a *Application) MetricsRegistry() *prometheus.Registry {
	return a.metricsReg
}

// Init wires logging, storage, the session layer backed by whatsmeow and the
// background jobs.
func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	if err := cfg.InitDirs(); err != nil {
		return err
	}
	initLogger(cfg)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	a.gormDB, err = getDatabase(cfg.Database, cfg.System.Workdir)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	factory := whatsapp.NewFactory(whatsapp.Options{
		Layout:     session.CredentialLayout{Root: cfg.GetAuthDir()},
		DeviceName: cfg.Whatsapp.DeviceName,
		PrintQR:    cfg.Whatsapp.PrintQR,
		Logger:     zap.L(),
	})
	if err := a.InitSessions(factory.New); err != nil {
		return err
	}

	a.initJob()
	return nil
}

func initLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)
}

// InitSessions builds the session layer on top of factory and attaches the
// audit log and webhook to its event bus. The database must be ready.
func (a *Application) InitSessions(factory session.AdapterFactory) error {
	cfg := a.appConfig.Whatsapp
	logger := zap.L()

	a.metricsReg = prometheus.NewRegistry()
	sm := session.NewMetrics(a.metricsReg)

	registry, err := session.NewRegistry(session.RegistryOptions{
		Factory:             factory,
		Broadcaster:         session.NewBroadcaster(cfg.ObserverBuffer, logger),
		Bus:                 a.bus,
		Metrics:             sm,
		Logger:              logger,
		MaxConcurrentStarts: cfg.MaxConcurrentStarts,
	})
	if err != nil {
		return errors.Wrap(err, "create session registry")
	}
	reconciler := session.NewReconciler(registry, cfg.ProbeTimeout, cfg.ProbeTTL, sm, logger)
	janitor := session.NewJanitor(session.CredentialLayout{Root: a.appConfig.GetAuthDir()}, registry, logger)
	a.sessions = session.NewManager(registry, reconciler, janitor, a.bus, sm, logger)

	a.eventLog, err = audit.NewRecorder(a.gormDB, logger)
	if err != nil {
		return errors.Wrap(err, "create event log")
	}
	if err := a.eventLog.Subscribe(a.bus); err != nil {
		return errors.Wrap(err, "subscribe event log")
	}
	if cfg.WebhookURL != "" {
		a.webhook = audit.NewWebhook(cfg.WebhookURL, logger)
		if err := a.webhook.Subscribe(a.bus); err != nil {
			return errors.Wrap(err, "subscribe webhook")
		}
	}
	return a.bus.SubscribeAsync(session.TopicDelivery, countDelivery, false)
}

func countDelivery(d session.Delivery) {
	if d.Err == nil {
		metrics.Incr("messages_sent", 1)
	}
}

// ResumeSessions starts every tenant that was logged in when the server
// last stopped and returns the tenants it started.
func (a *Application) ResumeSessions(ctx context.Context) []string {
	tenants, err := a.eventLog.Resumable(ctx)
	if err != nil {
		zap.L().Error("resume sessions: query failed", zap.String("namespace", "session"), zap.Error(err))
		return nil
	}
	started := make([]string, 0, len(tenants))
	for _, tenant := range tenants {
		if _, err := a.sessions.Start(tenant); err != nil {
			zap.L().Warn("resume sessions: start failed",
				zap.String("namespace", "session"), zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		started = append(started, tenant)
	}
	if len(started) > 0 {
		zap.L().Info("resumed sessions", zap.String("namespace", "session"), zap.Strings("tenants", started))
	}
	return started
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Release closes the session layer before the audit log and webhook that
// listen to it.
func (a *Application) Release(ctx context.Context) {
	if a.sessions != nil {
		if err := a.sessions.Shutdown(ctx); err != nil {
			zap.L().Warn("session shutdown incomplete", zap.Error(err))
		}
	}
	if a.bus != nil {
		a.bus.WaitAsync()
	}
	if a.webhook != nil {
		a.webhook.Close()
	}
	if a.eventLog != nil {
		a.eventLog.Close()
	}
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}

	_ = metrics.Close()
	_ = zap.L().Sync()
}

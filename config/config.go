package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WAHUB_"

type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Secret signs API bearer tokens. Empty leaves the API unauthenticated.
	Secret  string `yaml:"secret"`
	Metrics bool   `yaml:"metrics"`
}

type DBConfig struct {
	Type     string `yaml:"type"` // sqlite or postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

type WhatsappConfig struct {
	// AuthDir holds one credential directory per tenant. Defaults to <workdir>/auth.
	AuthDir             string        `yaml:"auth_dir"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	ProbeTTL            time.Duration `yaml:"probe_ttl"`
	MaxConcurrentStarts int           `yaml:"max_concurrent_starts"`
	ObserverBuffer      int           `yaml:"observer_buffer"`
	PrintQR             bool          `yaml:"print_qr"`
	WebhookURL          string        `yaml:"webhook_url"`
	EventRetentionDays  int           `yaml:"event_retention_days"`
	DeviceName          string        `yaml:"device_name"`
	// AutoResume restarts tenants that were logged in at the last shutdown.
	AutoResume bool `yaml:"auto_resume"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	Whatsapp WhatsappConfig `yaml:"whatsapp"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetAuthDir() string {
	if c.Whatsapp.AuthDir != "" {
		return c.Whatsapp.AuthDir
	}
	return filepath.Join(c.System.Workdir, "auth")
}

// InitDirs creates the working directories the server writes to.
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.System.Workdir, c.GetLogDir(), c.GetDataDir(), c.GetAuthDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "WAHub",
		Location: "Local",
		Workdir:  "./data",
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1816,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Name:     "wahub.db",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "./data/logs/wahub.log",
	},
	Whatsapp: WhatsappConfig{
		ProbeTimeout:        10 * time.Second,
		ProbeTTL:            2 * time.Second,
		MaxConcurrentStarts: 16,
		ObserverBuffer:      64,
		EventRetentionDays:  30,
		DeviceName:          "WAHub",
		AutoResume:          true,
	},
}

// LoadConfig reads cfile over the defaults and then applies WAHUB_*
// environment overrides. An empty cfile uses defaults and the environment
// only; a named file that does not exist is an error.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfile)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.Whatsapp.ProbeTimeout <= 0 {
		cfg.Whatsapp.ProbeTimeout = DefaultAppConfig.Whatsapp.ProbeTimeout
	}
	if cfg.Whatsapp.ObserverBuffer <= 0 {
		cfg.Whatsapp.ObserverBuffer = DefaultAppConfig.Whatsapp.ObserverBuffer
	}
	if cfg.Whatsapp.MaxConcurrentStarts <= 0 {
		cfg.Whatsapp.MaxConcurrentStarts = DefaultAppConfig.Whatsapp.MaxConcurrentStarts
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	setEnvValue("SYSTEM_LOCATION", &cfg.System.Location)
	setEnvValue("SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WEB_HOST", &cfg.Web.Host)
	setEnvValue("WEB_SECRET", &cfg.Web.Secret)
	setEnvValue("DB_TYPE", &cfg.Database.Type)
	setEnvValue("DB_HOST", &cfg.Database.Host)
	setEnvValue("DB_NAME", &cfg.Database.Name)
	setEnvValue("DB_USER", &cfg.Database.User)
	setEnvValue("DB_PASSWD", &cfg.Database.Passwd)
	setEnvValue("LOGGER_MODE", &cfg.Logger.Mode)
	setEnvValue("LOGGER_FILENAME", &cfg.Logger.Filename)
	setEnvValue("WHATSAPP_AUTH_DIR", &cfg.Whatsapp.AuthDir)
	setEnvValue("WHATSAPP_WEBHOOK_URL", &cfg.Whatsapp.WebhookURL)
	setEnvValue("WHATSAPP_DEVICE_NAME", &cfg.Whatsapp.DeviceName)

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	collect(setEnvBoolValue("SYSTEM_DEBUG", &cfg.System.Debug))
	collect(setEnvIntValue("WEB_PORT", &cfg.Web.Port))
	collect(setEnvBoolValue("WEB_METRICS", &cfg.Web.Metrics))
	collect(setEnvIntValue("DB_PORT", &cfg.Database.Port))
	collect(setEnvBoolValue("DB_DEBUG", &cfg.Database.Debug))
	collect(setEnvBoolValue("LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable))
	collect(setEnvDurationValue("WHATSAPP_PROBE_TIMEOUT", &cfg.Whatsapp.ProbeTimeout))
	collect(setEnvDurationValue("WHATSAPP_PROBE_TTL", &cfg.Whatsapp.ProbeTTL))
	collect(setEnvIntValue("WHATSAPP_MAX_CONCURRENT_STARTS", &cfg.Whatsapp.MaxConcurrentStarts))
	collect(setEnvIntValue("WHATSAPP_OBSERVER_BUFFER", &cfg.Whatsapp.ObserverBuffer))
	collect(setEnvBoolValue("WHATSAPP_PRINT_QR", &cfg.Whatsapp.PrintQR))
	collect(setEnvIntValue("WHATSAPP_EVENT_RETENTION_DAYS", &cfg.Whatsapp.EventRetentionDays))
	collect(setEnvBoolValue("WHATSAPP_AUTO_RESUME", &cfg.Whatsapp.AutoResume))
	if len(errs) > 0 {
		return errors.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	val, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func setEnvValue(name string, val *string) {
	if v, ok := lookupEnv(name); ok {
		*val = v
	}
}

func setEnvBoolValue(name string, val *bool) error {
	v, ok := lookupEnv(name)
	if !ok {
		return nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return errors.Wrap(err, envPrefix+name)
	}
	*val = b
	return nil
}

func setEnvIntValue(name string, val *int) error {
	v, ok := lookupEnv(name)
	if !ok {
		return nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return errors.Wrap(err, envPrefix+name)
	}
	*val = i
	return nil
}

func setEnvDurationValue(name string, val *time.Duration) error {
	v, ok := lookupEnv(name)
	if !ok {
		return nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return errors.Wrap(err, envPrefix+name)
	}
	*val = d
	return nil
}

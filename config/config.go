package config

import (
	"os"
	"path"
	"strconv"

	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

// BackendConfig points the agent at the hosted CRM backend it mirrors.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Token          string `yaml:"token" json:"token"`
	UserID         string `yaml:"user_id" json:"user_id"`
	OrganizationID string `yaml:"organization_id" json:"organization_id"`
	Timeout        int    `yaml:"timeout" json:"timeout"` // seconds
}

// RealtimeConfig configures the event stream subscription.
type RealtimeConfig struct {
	URL              string `yaml:"url" json:"url"`
	ReconnectMinSecs int    `yaml:"reconnect_min_secs" json:"reconnect_min_secs"`
	ReconnectMaxSecs int    `yaml:"reconnect_max_secs" json:"reconnect_max_secs"`
}

type DBConfig struct {
	Type   string `yaml:"type" json:"type"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Name   string `yaml:"name" json:"name"`
	User   string `yaml:"user" json:"user"`
	Passwd string `yaml:"passwd" json:"passwd"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

type MailConfig struct {
	SmtpHost string   `yaml:"smtp_host" json:"smtp_host"`
	SmtpPort int      `yaml:"smtp_port" json:"smtp_port"`
	SmtpUser string   `yaml:"smtp_user" json:"smtp_user"`
	SmtpPass string   `yaml:"smtp_pass" json:"smtp_pass"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Backend  BackendConfig  `yaml:"backend" json:"backend"`
	Realtime RealtimeConfig `yaml:"realtime" json:"realtime"`
	Database DBConfig       `yaml:"database" json:"database"`
	Mail     MailConfig     `yaml:"mail" json:"mail"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "whatsdesk",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/whatsdesk",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1890,
		Secret: "9b6de5cc-whatsdesk-0cc5-8f745",
	},
	Backend: BackendConfig{
		BaseURL: "http://127.0.0.1:3001",
		Timeout: 15,
	},
	Realtime: RealtimeConfig{
		ReconnectMinSecs: 2,
		ReconnectMaxSecs: 30,
	},
	Database: DBConfig{
		Type:   "postgres",
		Host:   "127.0.0.1",
		Port:   5432,
		Name:   "whatsdesk",
		User:   "postgres",
		Passwd: "",
	},
	Mail: MailConfig{
		SmtpPort: 587,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/whatsdesk/whatsdesk.log",
	},
}

func setEnvValue(name string, f func(v string)) {
	if v := os.Getenv(name); v != "" {
		f(v)
	}
}

func setEnvInt(name string, f func(v int)) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			f(i)
		}
	}
}

func setEnvBool(name string, f func(v bool)) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f(b)
		}
	}
}

// LoadConfig reads the YAML config file and applies environment overrides.
// A missing file yields the default configuration.
func LoadConfig(cfile string) *AppConfig {
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	setEnvValue("WHATSDESK_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvValue("WHATSDESK_SYSTEM_LOCATION", func(v string) { cfg.System.Location = v })
	setEnvBool("WHATSDESK_SYSTEM_DEBUG", func(v bool) { cfg.System.Debug = v })

	setEnvValue("WHATSDESK_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvInt("WHATSDESK_WEB_PORT", func(v int) { cfg.Web.Port = v })
	setEnvValue("WHATSDESK_WEB_SECRET", func(v string) { cfg.Web.Secret = v })

	setEnvValue("WHATSDESK_BACKEND_URL", func(v string) { cfg.Backend.BaseURL = v })
	setEnvValue("WHATSDESK_BACKEND_TOKEN", func(v string) { cfg.Backend.Token = v })
	setEnvValue("WHATSDESK_BACKEND_USER_ID", func(v string) { cfg.Backend.UserID = v })
	setEnvValue("WHATSDESK_BACKEND_ORG_ID", func(v string) { cfg.Backend.OrganizationID = v })
	setEnvInt("WHATSDESK_BACKEND_TIMEOUT", func(v int) { cfg.Backend.Timeout = v })

	setEnvValue("WHATSDESK_REALTIME_URL", func(v string) { cfg.Realtime.URL = v })

	setEnvValue("WHATSDESK_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("WHATSDESK_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvInt("WHATSDESK_DB_PORT", func(v int) { cfg.Database.Port = v })
	setEnvValue("WHATSDESK_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("WHATSDESK_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("WHATSDESK_DB_PWD", func(v string) { cfg.Database.Passwd = v })

	setEnvValue("WHATSDESK_SMTP_HOST", func(v string) { cfg.Mail.SmtpHost = v })
	setEnvInt("WHATSDESK_SMTP_PORT", func(v int) { cfg.Mail.SmtpPort = v })
	setEnvValue("WHATSDESK_SMTP_USER", func(v string) { cfg.Mail.SmtpUser = v })
	setEnvValue("WHATSDESK_SMTP_PWD", func(v string) { cfg.Mail.SmtpPass = v })

	setEnvValue("WHATSDESK_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })

	// The realtime feed defaults to the backend host when not set explicitly.
	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = cfg.Backend.BaseURL + "/socket/events"
	}

	_ = os.MkdirAll(cfg.System.Workdir, 0755)
	_ = os.MkdirAll(path.Join(cfg.System.Workdir, "data"), 0755)

	return cfg
}

package configuration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnv overrides the default configuration file location.
	ConfigPathEnv = "HISTDATA_CONFIG_PATH"
	// DefaultConfigPath is used when ConfigPathEnv is unset.
	DefaultConfigPath = "./config/config.json"
	// SaxoTokenEnv overrides gateway.access_token.
	SaxoTokenEnv = "HISTDATA_SAXO_TOKEN"
)

// Gateway kinds.
const (
	GatewayKindSaxo = "saxo"
	GatewayKindIB   = "ib"
)

// Config struct to hold the configuration data
type Config struct {
	GlobalSettings    GlobalSettings    `json:"global_settings" yaml:"global_settings"`
	Gateway           Gateway           `json:"gateway" yaml:"gateway"`
	Timeouts          Timeouts          `json:"timeouts" yaml:"timeouts"`
	Download          Download          `json:"download" yaml:"download"`
	Database          Database          `json:"database" yaml:"database"`
	Logging           Logging           `json:"logging" yaml:"logging"`
	RabbitMQ          RabbitMQ          `json:"rabbitmq" yaml:"rabbitmq"`
	LogStream         LogStream         `json:"log_stream" yaml:"log_stream"`
	SchedulerSettings SchedulerSettings `json:"scheduler_settings" yaml:"scheduler_settings"`
}

// GlobalSettings struct
type GlobalSettings struct {
	AppName string `json:"app_name" yaml:"app_name"`
	Version string `json:"version" yaml:"version"`
}

// Gateway describes the market data gateway connection.
// Kind picks the adapter: "saxo" for the Saxo OpenAPI, "ib" for a TWS or
// IB Gateway socket. Environment and AccessToken only apply to saxo.
type Gateway struct {
	Kind        string `json:"kind" yaml:"kind"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	ClientID    int64  `json:"client_id" yaml:"client_id"`
	Environment string `json:"environment" yaml:"environment"` // "live" or "sim"
	AccessToken string `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	HTTPTimeout int    `json:"http_timeout" yaml:"http_timeout"` // in seconds
}

// Timeouts for the synchronous client, in seconds.
type Timeouts struct {
	ContractDetails int `json:"contract_details" yaml:"contract_details"`
	HistoricalData  int `json:"historical_data" yaml:"historical_data"`
	ErrorPoll       int `json:"error_poll" yaml:"error_poll"`
}

// Download struct
type Download struct {
	OutputDir       string `json:"output_dir" yaml:"output_dir"`
	DisplayTimezone string `json:"display_timezone" yaml:"display_timezone"`
	WhatToShow      string `json:"what_to_show" yaml:"what_to_show"`
	UseRTH          *bool  `json:"use_rth,omitempty" yaml:"use_rth,omitempty"`
}

// Database struct
type Database struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"db_path" yaml:"db_path"`
}

// Logging struct
type Logging struct {
	Level         string `json:"level" yaml:"level"` // e.g., "debug", "info", "warn", "error"
	FilePath      string `json:"file_path" yaml:"file_path"`
	RotationSize  int    `json:"rotation_size" yaml:"rotation_size"` // in MB
	MaxBackups    int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays    int    `json:"max_age_days" yaml:"max_age_days"`
	ConsoleOutput bool   `json:"console_output" yaml:"console_output"`
}

// RabbitMQ struct
type RabbitMQ struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	VirtualHost string `json:"virtual_host" yaml:"virtual_host"`
	QueueName   string `json:"queue_name" yaml:"queue_name"`
}

// URL returns the AMQP connection URL.
func (r RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.Username, r.Password),
		Host:   net.JoinHostPort(r.Host, strconv.Itoa(r.Port)),
		Path:   "/" + strings.TrimPrefix(r.VirtualHost, "/"),
	}
	return u.String()
}

// LogStream configures the WebSocket relay of download notifications.
type LogStream struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// SchedulerSettings struct
type SchedulerSettings struct {
	Enabled         bool           `json:"enabled" yaml:"enabled"`
	DefaultTimezone string         `json:"default_timezone" yaml:"default_timezone"`
	Tasks           []DownloadTask `json:"tasks" yaml:"tasks"`
}

// DownloadTask is a recurring download of the last LookbackDays of bars.
type DownloadTask struct {
	Name         string `json:"name" yaml:"name"`
	CronExpr     string `json:"cron_expr" yaml:"cron_expr"`
	Ticker       string `json:"ticker" yaml:"ticker"`
	SecType      string `json:"sec_type" yaml:"sec_type"`
	Exchange     string `json:"exchange" yaml:"exchange"`
	Currency     string `json:"currency" yaml:"currency"`
	BarSize      string `json:"bar_size" yaml:"bar_size"`
	LookbackDays int    `json:"lookback_days" yaml:"lookback_days"`
	Disabled     bool   `json:"disabled" yaml:"disabled"`
}

// PathFromEnv returns the configuration path from ConfigPathEnv or the default.
func PathFromEnv() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension,
// then applies defaults and environment overrides.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
		}
	}

	config.ApplyDefaults()
	if token := os.Getenv(SaxoTokenEnv); token != "" {
		config.Gateway.AccessToken = token
	}
	return &config, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.GlobalSettings.AppName == "" {
		c.GlobalSettings.AppName = "histdata"
	}
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = GatewayKindSaxo
	}
	if c.Gateway.Environment == "" {
		c.Gateway.Environment = "sim"
	}
	if c.Gateway.HTTPTimeout <= 0 {
		c.Gateway.HTTPTimeout = 10
	}
	if c.Timeouts.ContractDetails <= 0 {
		c.Timeouts.ContractDetails = 10
	}
	if c.Timeouts.HistoricalData <= 0 {
		c.Timeouts.HistoricalData = 30
	}
	if c.Timeouts.ErrorPoll <= 0 {
		c.Timeouts.ErrorPoll = 5
	}
	if c.Download.OutputDir == "" {
		c.Download.OutputDir = "."
	}
	if c.Download.DisplayTimezone == "" {
		c.Download.DisplayTimezone = "America/New_York"
	}
	if c.Download.WhatToShow == "" {
		c.Download.WhatToShow = "TRADES"
	}
	if c.Download.UseRTH == nil {
		useRTH := true
		c.Download.UseRTH = &useRTH
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "./logs"
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "histdata_notifications"
	}
	if c.LogStream.ListenAddr == "" {
		c.LogStream.ListenAddr = ":8765"
	}
	if c.SchedulerSettings.DefaultTimezone == "" {
		c.SchedulerSettings.DefaultTimezone = "UTC"
	}
	for i := range c.SchedulerSettings.Tasks {
		task := &c.SchedulerSettings.Tasks[i]
		if task.SecType == "" {
			task.SecType = "STK"
		}
		if task.Exchange == "" {
			task.Exchange = "SMART"
		}
		if task.Currency == "" {
			task.Currency = "USD"
		}
		if task.LookbackDays <= 0 {
			task.LookbackDays = 1
		}
	}
}

// ValidateConfig checks for the presence and correctness of all required configuration fields
func (c *Config) ValidateConfig() error {
	if c.GlobalSettings.AppName == "" {
		return fmt.Errorf("global_settings.app_name is required")
	}

	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port is invalid: %d", c.Gateway.Port)
	}
	switch strings.ToLower(c.Gateway.Kind) {
	case GatewayKindSaxo:
		switch strings.ToLower(c.Gateway.Environment) {
		case "live", "sim", "simdemo":
		default:
			return fmt.Errorf("gateway.environment is invalid: %s", c.Gateway.Environment)
		}
		if c.Gateway.AccessToken == "" {
			return fmt.Errorf("gateway.access_token is required (or set %s)", SaxoTokenEnv)
		}
	case GatewayKindIB:
		if c.Gateway.ClientID < 0 {
			return fmt.Errorf("gateway.client_id cannot be negative for an IB gateway")
		}
	default:
		return fmt.Errorf("gateway.kind is invalid: %s (expected %s or %s)", c.Gateway.Kind, GatewayKindSaxo, GatewayKindIB)
	}

	if _, err := time.LoadLocation(c.Download.DisplayTimezone); err != nil {
		return fmt.Errorf("download.display_timezone is invalid: %s, error: %w", c.Download.DisplayTimezone, err)
	}

	if c.Database.Enabled && c.Database.DBPath == "" {
		return fmt.Errorf("database.db_path is required when the database is enabled")
	}

	validLogLevels := []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}
	levelIsValid := false
	for _, level := range validLogLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelIsValid = true
			break
		}
	}
	if !levelIsValid {
		return fmt.Errorf("logging.level is invalid: %s", c.Logging.Level)
	}
	if c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required")
	}
	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging.max_backups cannot be negative")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq.host is required when rabbitmq is enabled")
		}
		if c.RabbitMQ.Port <= 0 {
			return fmt.Errorf("rabbitmq.port must be positive")
		}
		if c.RabbitMQ.Username == "" {
			return fmt.Errorf("rabbitmq.username is required when rabbitmq is enabled")
		}
	}

	if c.LogStream.Enabled {
		if _, _, err := net.SplitHostPort(c.LogStream.ListenAddr); err != nil {
			return fmt.Errorf("log_stream.listen_addr is invalid: %s, error: %w", c.LogStream.ListenAddr, err)
		}
	}

	if c.SchedulerSettings.Enabled {
		_, err := time.LoadLocation(c.SchedulerSettings.DefaultTimezone)
		if err != nil {
			return fmt.Errorf("scheduler_settings.default_timezone is invalid: %s, error: %w", c.SchedulerSettings.DefaultTimezone, err)
		}

		for i, task := range c.SchedulerSettings.Tasks {
			if task.Name == "" {
				return fmt.Errorf("scheduler_settings.tasks[%d].name is required", i)
			}
			if task.CronExpr == "" {
				return fmt.Errorf("scheduler_settings.tasks[%d].cron_expr is required for task %s", i, task.Name)
			}
			if task.Ticker == "" {
				return fmt.Errorf("scheduler_settings.tasks[%d].ticker is required for task %s", i, task.Name)
			}
			if task.BarSize == "" {
				return fmt.Errorf("scheduler_settings.tasks[%d].bar_size is required for task %s", i, task.Name)
			}
		}
	}

	return nil
}

// TimeoutDurations converts the configured seconds to durations:
// contract details, historical data, error poll.
func (t Timeouts) TimeoutDurations() (time.Duration, time.Duration, time.Duration) {
	return time.Duration(t.ContractDetails) * time.Second,
		time.Duration(t.HistoricalData) * time.Second,
		time.Duration(t.ErrorPoll) * time.Second
}

// DisplayLocation loads the configured display timezone.
func (d Download) DisplayLocation() (*time.Location, error) {
	return time.LoadLocation(d.DisplayTimezone)
}

// SchedulerLocation loads the scheduler timezone.
func (s SchedulerSettings) SchedulerLocation() (*time.Location, error) {
	return time.LoadLocation(s.DefaultTimezone)
}

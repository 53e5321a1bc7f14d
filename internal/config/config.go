// Package config provides layered configuration loading for smtp-send:
// defaults, then an optional YAML or TOML file, then environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/provider/ses"
	"github.com/shineum/smtp-send-lite/internal/smtp"
	tlsutil "github.com/shineum/smtp-send-lite/internal/tls"
)

// Provider names accepted in the provider setting.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider" toml:"provider"`
	SMTP     SMTPConfig    `yaml:"smtp" toml:"smtp"`
	Mail     MailConfig    `yaml:"mail" toml:"mail"`
	SES      SESConfig     `yaml:"ses" toml:"ses"`
	TLS      TLSConfig     `yaml:"tls" toml:"tls"`
	Logging  LoggingConfig `yaml:"logging" toml:"logging"`
}

// SMTPConfig holds the relay connection settings.
type SMTPConfig struct {
	Host      string        `yaml:"host" toml:"host"`
	Port      int           `yaml:"port" toml:"port"`
	Secure    string        `yaml:"secure" toml:"secure"`
	Username  string        `yaml:"username" toml:"username"`
	Password  string        `yaml:"password" toml:"password"`
	LocalName string        `yaml:"local_name" toml:"local_name"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	Debug     bool          `yaml:"debug" toml:"debug"`
	Lenient   bool          `yaml:"lenient" toml:"lenient"`
}

// MailConfig holds message defaults.
type MailConfig struct {
	From                      string `yaml:"from" toml:"from"`
	FromName                  string `yaml:"from_name" toml:"from_name"`
	SkipUnreadableAttachments bool   `yaml:"skip_unreadable_attachments" toml:"skip_unreadable_attachments"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region" toml:"region"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// TLSConfig holds client-side TLS settings for the relay connection.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file" toml:"ca_file"`
	ServerName         string `yaml:"server_name" toml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or TOML
// (.toml) file as the base layer, then overrides with environment
// variables. Returns an error if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override file values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AuthEnabled returns true if an SMTP username is set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// ProviderName returns the delivery backend. Without an explicit provider
// it picks smtp when a relay host is set, then ses when a region is set,
// and stdout otherwise.
func (c *Config) ProviderName() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.SMTP.Host != "":
		return ProviderSMTP
	case c.SESConfigured():
		return ProviderSES
	default:
		return ProviderStdout
	}
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch c.ProviderName() {
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			return errors.New("smtp provider selected but SMTP_HOST is not set")
		}
		if _, err := smtp.ParseSecurity(c.SMTP.Secure); err != nil {
			return err
		}
	case ProviderSES:
		if !c.SESConfigured() {
			return errors.New("ses provider selected but SES_REGION is not set")
		}
	case ProviderStdout:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

// ComposeOptions returns the rendering options.
func (c *Config) ComposeOptions() compose.Options {
	return compose.Options{SkipUnreadableAttachments: c.Mail.SkipUnreadableAttachments}
}

// SMTPSettings builds the relay configuration. A TLS configuration is
// only built when the connection is encrypted or TLS settings are given.
func (c *Config) SMTPSettings() (smtp.Config, error) {
	security, err := smtp.ParseSecurity(c.SMTP.Secure)
	if err != nil {
		return smtp.Config{}, err
	}

	var tlsConfig *tls.Config
	if security != smtp.SecurityNone || c.TLS != (TLSConfig{}) {
		tlsConfig, err = tlsutil.ClientConfig(tlsutil.ClientOptions{
			CAFile:             c.TLS.CAFile,
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return smtp.Config{}, err
		}
	}

	return smtp.Config{
		Host:      c.SMTP.Host,
		Port:      c.SMTP.Port,
		Security:  security,
		Username:  c.SMTP.Username,
		Password:  c.SMTP.Password,
		LocalName: c.SMTP.LocalName,
		TLSConfig: tlsConfig,
		Timeout:   c.SMTP.Timeout,
		Lenient:   c.SMTP.Lenient,
		Compose:   c.ComposeOptions(),
	}, nil
}

// SESSettings builds the SES provider configuration.
func (c *Config) SESSettings() ses.Config {
	return ses.Config{
		Region:          c.SES.Region,
		AccessKeyID:     c.SES.AccessKeyID,
		SecretAccessKey: c.SES.SecretAccessKey,
		Compose:         c.ComposeOptions(),
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = smtp.DefaultPort
	c.SMTP.Secure = smtp.SecurityNone.String()
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Provider, "PROVIDER")
	if c.Provider != "" {
		c.Provider = strings.ToLower(c.Provider)
	}

	setString(&c.SMTP.Host, "SMTP_HOST")
	if err := setInt(&c.SMTP.Port, "SMTP_PORT"); err != nil {
		return err
	}
	setString(&c.SMTP.Secure, "SMTP_SECURE")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.LocalName, "SMTP_LOCAL_NAME")
	if err := setDuration(&c.SMTP.Timeout, "SMTP_TIMEOUT"); err != nil {
		return err
	}
	if err := setBool(&c.SMTP.Debug, "SMTP_DEBUG"); err != nil {
		return err
	}
	if err := setBool(&c.SMTP.Lenient, "SMTP_LENIENT"); err != nil {
		return err
	}

	setString(&c.Mail.From, "MAIL_FROM")
	setString(&c.Mail.FromName, "MAIL_FROM_NAME")
	if err := setBool(&c.Mail.SkipUnreadableAttachments, "MAIL_SKIP_UNREADABLE_ATTACHMENTS"); err != nil {
		return err
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.TLS.CAFile, "TLS_CA_FILE")
	setString(&c.TLS.ServerName, "TLS_SERVER_NAME")
	if err := setBool(&c.TLS.InsecureSkipVerify, "TLS_INSECURE_SKIP_VERIFY"); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Package credentials resolves the secrets and environment flags the
// authentication engine runs with.
//
// Resolution reads the process environment (cloud secret injection) and an
// optional local YAML config file. The local file takes precedence in
// interactive mode, matching how an operator overrides injected values on a
// development machine. Credentials are immutable once resolved and are never
// logged in full; only masked previews may appear in logs.
package credentials

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/parkbot/authflow/pkg/autherr"
)

// Environment variable names used for cloud credential injection.
const (
	EnvTOTPSecret        = "TOTP_SECRET"
	EnvPassword          = "ELIA_PASSWORD"
	EnvMicrosoftUsername = "MICROSOFT_USERNAME"
	EnvEmailAddress      = "EMAIL_ADDRESS"
	EnvSMTPPassword      = "SMTP_PASSWORD"
	EnvSMTPHost          = "SMTP_HOST"
	EnvSMTPPort          = "SMTP_PORT"
)

// Default mailbox endpoint (IMAP over TLS).
const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 993
)

// Credentials holds every secret the engine may need. Immutable after
// Resolve.
type Credentials struct {
	MicrosoftUsername string
	Password          string
	TOTPSecret        string
	EmailAddress      string
	EmailPassword     string
	SMTPHost          string
	SMTPPort          int
}

// HasTOTP reports whether the TOTP MFA branch can run.
func (c Credentials) HasTOTP() bool {
	return c.TOTPSecret != ""
}

// HasEmailMFA reports whether the email MFA branch can run.
func (c Credentials) HasEmailMFA() bool {
	return c.EmailAddress != "" && c.EmailPassword != ""
}

// MailboxAddr returns the IMAP dial address.
func (c Credentials) MailboxAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// localConfig is the shape of the optional on-disk config file.
type localConfig struct {
	MicrosoftUsername string `yaml:"microsoft_username"`
	Password          string `yaml:"password"`
	MFA               struct {
		TOTPSecret string `yaml:"totp_secret"`
	} `yaml:"mfa"`
	Email struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
	} `yaml:"email"`
}

// Resolver loads credentials and detects the runtime environment.
type Resolver struct {
	configPath string
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConfigPath overrides the default local config file location.
func WithConfigPath(path string) Option {
	return func(r *Resolver) { r.configPath = path }
}

// WithLogger sets the logger used for resolution warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver. The default config path is
// $XDG_CONFIG_HOME/authflow/config.yaml.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		configPath: filepath.Join(xdg.ConfigHome, "authflow", "config.yaml"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads credentials from the environment and, in local mode, the
// local config file (which wins for any value it sets). In cloud mode a
// missing required credential is a Configuration/High error; in local mode
// missing credentials are logged as warnings and the run continues.
func (r *Resolver) Resolve() (Credentials, Environment, error) {
	env := Detect()

	v := viper.New()
	v.SetDefault(EnvSMTPHost, DefaultSMTPHost)
	v.SetDefault(EnvSMTPPort, DefaultSMTPPort)
	for _, key := range []string{
		EnvTOTPSecret, EnvPassword, EnvMicrosoftUsername,
		EnvEmailAddress, EnvSMTPPassword, EnvSMTPHost, EnvSMTPPort,
	} {
		// BindEnv with the variable as both key and env name keeps the
		// lookup literal instead of prefix-mangled.
		if err := v.BindEnv(key, key); err != nil {
			return Credentials{}, env, autherr.Wrap(err, autherr.CategoryConfiguration, autherr.SeverityHigh)
		}
	}

	creds := Credentials{
		MicrosoftUsername: v.GetString(EnvMicrosoftUsername),
		Password:          v.GetString(EnvPassword),
		TOTPSecret:        strings.TrimSpace(v.GetString(EnvTOTPSecret)),
		EmailAddress:      v.GetString(EnvEmailAddress),
		EmailPassword:     v.GetString(EnvSMTPPassword),
		SMTPHost:          v.GetString(EnvSMTPHost),
		SMTPPort:          v.GetInt(EnvSMTPPort),
	}

	if env.Mode == ModeLocal {
		if err := r.applyLocalConfig(&creds); err != nil {
			r.logger.Warn("local config not applied", slog.String("path", r.configPath), slog.String("error", err.Error()))
		}
	}

	missing := missingRequired(creds)
	if len(missing) > 0 {
		if env.Mode == ModeCloud {
			return Credentials{}, env, autherr.New(
				autherr.CategoryConfiguration, autherr.SeverityHigh,
				"missing required credentials: %s", strings.Join(missing, ", "),
			)
		}
		r.logger.Warn("missing credentials, continuing in local mode",
			slog.String("missing", strings.Join(missing, ", ")))
	}

	r.logger.Info("credentials resolved",
		slog.String("environment", string(env.Mode)),
		slog.String("username", Mask(creds.MicrosoftUsername)),
		slog.Bool("totp_available", creds.HasTOTP()),
		slog.Bool("email_mfa_available", creds.HasEmailMFA()),
	)

	return creds, env, nil
}

// applyLocalConfig overlays values from the local YAML file onto creds.
// Values set in the file take precedence over environment values.
func (r *Resolver) applyLocalConfig(creds *Credentials) error {
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg localConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overlay(&creds.MicrosoftUsername, cfg.MicrosoftUsername)
	overlay(&creds.Password, cfg.Password)
	overlay(&creds.TOTPSecret, strings.TrimSpace(cfg.MFA.TOTPSecret))
	overlay(&creds.EmailAddress, cfg.Email.Address)
	overlay(&creds.EmailPassword, cfg.Email.Password)
	overlay(&creds.SMTPHost, cfg.Email.Host)
	if cfg.Email.Port != 0 {
		creds.SMTPPort = cfg.Email.Port
	}
	return nil
}

func overlay(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// missingRequired lists the credentials cloud mode cannot run without.
func missingRequired(c Credentials) []string {
	var missing []string
	if c.TOTPSecret == "" {
		missing = append(missing, "totp_secret")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.MicrosoftUsername == "" {
		missing = append(missing, "username")
	}
	return missing
}

package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkbot/authflow/pkg/autherr"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvTOTPSecret, EnvPassword, EnvMicrosoftUsername,
		EnvEmailAddress, EnvSMTPPassword, EnvSMTPHost, EnvSMTPPort,
		"GITHUB_ACTIONS", "ENVIRONMENT", "CI",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDetect_CloudSignals(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		cloud bool
	}{
		{"github actions", "GITHUB_ACTIONS", "true", true},
		{"docker", "ENVIRONMENT", "docker", true},
		{"generic ci", "CI", "true", true},
		{"github actions false", "GITHUB_ACTIONS", "false", false},
		{"no signals", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAuthEnv(t)
			if tt.key != "" {
				t.Setenv(tt.key, tt.value)
			}

			env := detect()
			if tt.cloud {
				assert.Equal(t, ModeCloud, env.Mode)
				assert.True(t, env.Headless)
				assert.True(t, env.EphemeralSessions)
				assert.Contains(t, env.BrowserArgs, "--no-sandbox")
			} else {
				assert.Equal(t, ModeLocal, env.Mode)
				assert.False(t, env.Headless)
				assert.Empty(t, env.BrowserArgs)
			}
		})
	}
}

func TestDetect_Cached(t *testing.T) {
	first := Detect()
	second := Detect()
	assert.Equal(t, first, second)
}

func TestResolve_FromEnvironment(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(EnvMicrosoftUsername, "bot@example.com")
	t.Setenv(EnvPassword, "hunter2hunter2")
	t.Setenv(EnvTOTPSecret, "JBSWY3DPEHPK3PXP")
	t.Setenv(EnvEmailAddress, "mfa@example.com")
	t.Setenv(EnvSMTPPassword, "app-password")

	r := NewResolver(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	creds, _, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "bot@example.com", creds.MicrosoftUsername)
	assert.Equal(t, "hunter2hunter2", creds.Password)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", creds.TOTPSecret)
	assert.True(t, creds.HasTOTP())
	assert.True(t, creds.HasEmailMFA())
	assert.Equal(t, DefaultSMTPHost, creds.SMTPHost)
	assert.Equal(t, DefaultSMTPPort, creds.SMTPPort)
	assert.Equal(t, "smtp.gmail.com:993", creds.MailboxAddr())
}

func TestResolve_LocalConfigTakesPrecedence(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(EnvMicrosoftUsername, "env@example.com")
	t.Setenv(EnvPassword, "env-password")
	t.Setenv(EnvTOTPSecret, "ENVSECRETENVSECRET")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	config := []byte(`
microsoft_username: file@example.com
mfa:
  totp_secret: FILESECRETFILESECRET
email:
  host: imap.example.com
  port: 1993
`)
	require.NoError(t, os.WriteFile(path, config, 0600))

	r := NewResolver(WithConfigPath(path))
	creds, env, err := r.Resolve()
	require.NoError(t, err)
	require.Equal(t, ModeLocal, env.Mode)

	assert.Equal(t, "file@example.com", creds.MicrosoftUsername)
	assert.Equal(t, "FILESECRETFILESECRET", creds.TOTPSecret)
	assert.Equal(t, "env-password", creds.Password, "file silence keeps env value")
	assert.Equal(t, "imap.example.com", creds.SMTPHost)
	assert.Equal(t, 1993, creds.SMTPPort)
}

func TestResolve_LocalModeMissingCredentialsContinues(t *testing.T) {
	clearAuthEnv(t)

	r := NewResolver(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	creds, env, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, env.Mode)
	assert.False(t, creds.HasTOTP())
}

func TestMissingRequired(t *testing.T) {
	missing := missingRequired(Credentials{})
	assert.ElementsMatch(t, []string{"totp_secret", "password", "username"}, missing)

	missing = missingRequired(Credentials{
		TOTPSecret:        "s",
		Password:          "p",
		MicrosoftUsername: "u",
	})
	assert.Empty(t, missing)
}

func TestMissingRequired_ClassifiesAsConfiguration(t *testing.T) {
	// Cloud-mode validation must produce a Configuration/High classified
	// error; exercised directly since Detect() is process-cached.
	missing := missingRequired(Credentials{Password: "p", MicrosoftUsername: "u"})
	require.NotEmpty(t, missing)

	err := autherr.New(autherr.CategoryConfiguration, autherr.SeverityHigh,
		"missing required credentials: %s", missing[0])

	var ce *autherr.ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, autherr.CategoryConfiguration, ce.Category)
	assert.Equal(t, autherr.SeverityHigh, ce.Severity)
	assert.False(t, autherr.ShouldRetry(ce))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "***", Mask("ab"))
	assert.Equal(t, "hu***", Mask("hunter2"))
}

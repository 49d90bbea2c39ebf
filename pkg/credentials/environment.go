package credentials

import (
	"os"
	"sync"
	"time"
)

// Mode distinguishes an unattended cloud runner from an interactive
// local machine.
type Mode string

const (
	ModeCloud Mode = "cloud"
	ModeLocal Mode = "local"
)

// Environment captures runtime-derived settings. Read-only after Detect.
type Environment struct {
	// Mode is cloud or local.
	Mode Mode
	// Headless controls whether the browser runs without a display.
	Headless bool
	// BrowserArgs are extra launch flags (sandbox-disabling in cloud).
	BrowserArgs []string
	// NavigationTimeout bounds individual browser navigation steps.
	NavigationTimeout time.Duration
	// EphemeralSessions means sessions are never persisted to disk.
	EphemeralSessions bool
}

// IsCloud reports whether the process runs on an unattended runner.
func (e Environment) IsCloud() bool {
	return e.Mode == ModeCloud
}

var (
	detectOnce sync.Once
	detected   Environment
)

// Detect derives the Environment from the process environment. Cloud mode
// is true when any of the CI, container, or cloud flags is set. The result
// is computed once and cached for the process lifetime.
func Detect() Environment {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

// detect is the uncached derivation; tests call it directly so flag
// combinations can be exercised without the process-lifetime cache.
func detect() Environment {
	cloud := os.Getenv("GITHUB_ACTIONS") == "true" ||
		os.Getenv("ENVIRONMENT") == "docker" ||
		os.Getenv("CI") == "true"

	env := Environment{
		Mode:              ModeLocal,
		Headless:          false,
		NavigationTimeout: 45 * time.Second,
	}
	if cloud {
		env.Mode = ModeCloud
		env.Headless = true
		env.BrowserArgs = []string{"--no-sandbox", "--disable-dev-shm-usage"}
		env.EphemeralSessions = true
	}
	return env
}

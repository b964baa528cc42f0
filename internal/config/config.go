// Package config loads and saves rvdbg's TOML session configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kirsle/configdir"

	"rvdbg/internal/log"
)

// Session holds the tunables that drive a debug session: the listen
// address for the RSP TCP transport, the default register width, and the
// busy-poll budgets that internal/dm treats as part of its contract.
type Session struct {
	XLen              uint8  `toml:"xlen"`
	ListenAddr        string `toml:"listen_addr"`
	CPUTimeoutPolls   int    `toml:"cpu_timeout_polls"`
	PollSleepUS       int64  `toml:"poll_sleep_us"`
	PostResumeDelayUS int64  `toml:"post_resume_delay_us"`
}

// PollSleep is the configured busy-poll sleep as a time.Duration.
func (s Session) PollSleep() time.Duration { return time.Duration(s.PollSleepUS) * time.Microsecond }

// PostResumeDelay is the configured post-resume settle delay as a time.Duration.
func (s Session) PostResumeDelay() time.Duration {
	return time.Duration(s.PostResumeDelayUS) * time.Microsecond
}

type Log struct {
	Modules string `toml:"modules"`
}

type Status struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

type Config struct {
	Session Session `toml:"session"`
	Log     Log     `toml:"log"`
	Status  Status  `toml:"status"`
}

// Default returns the built-in configuration, matching the contract
// budgets in spec.md §4.3/§5 (1µs poll sleep, 1s/1e6-iteration deadline,
// 10µs post-resume settle delay).
func Default() Config {
	return Config{
		Session: Session{
			XLen:              64,
			ListenAddr:        ":1234",
			CPUTimeoutPolls:   1_000_000,
			PollSleepUS:       1,
			PostResumeDelayUS: 10,
		},
		Log: Log{
			Modules: "",
		},
		Status: Status{
			Enabled:    false,
			ListenAddr: ":8080",
		},
	}
}

var dir = sync.OnceValue(func() string {
	d := configdir.LocalConfig("rvdbg")
	if err := configdir.MakePath(d); err != nil {
		log.ModCLI.FatalZ("failed to create config directory").String("dir", d).Error("err", err).End()
	}
	return d
})

const filename = "config.toml"

// Path returns the path to the config file in the OS-appropriate config
// directory.
func Path() string {
	return filepath.Join(dir(), filename)
}

// LoadOrDefault loads the configuration from path, or from the default
// rvdbg config directory if path is empty. A missing or unparsable file
// yields the built-in default, mirroring the teacher's
// LoadConfigOrDefault: an absent config is normal on first run, not fatal.
func LoadOrDefault(path string) Config {
	if path == "" {
		path = Path()
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		log.ModCLI.DebugZ("no usable config file, using defaults").
			String("path", path).Error("err", err).End()
		return Default()
	}
	return cfg
}

// Save writes cfg to the default rvdbg config directory.
func Save(cfg Config) error {
	buf, err := encode(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(), buf, 0o644)
}

func encode(cfg Config) ([]byte, error) {
	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

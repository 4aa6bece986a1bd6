// Package config loads the server's parameter bundle from a
// YAML file through koanf, the way nasa-jpl-golaborate's instrument
// servers layer koanf over a YAML provider, and watches the file with
// fsnotify to live-reload the safe subset of knobs (logging verbosity,
// linger policy) without requiring a restart.
package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
)

// TriggerMode encodes the four-way LISTEN_ET x CONN_ET matrix using
// the original server's own numeric convention: 0=LT+LT, 1=LT+ET,
// 2=ET+LT, 3=ET+ET.
type TriggerMode int

const (
	ModeLTLT TriggerMode = 0
	ModeLTET TriggerMode = 1
	ModeETLT TriggerMode = 2
	ModeETET TriggerMode = 3
)

// ListenET reports whether the listening socket should be edge-triggered.
func (m TriggerMode) ListenET() bool { return m == ModeETLT || m == ModeETET }

// ConnET reports whether connection sockets should be edge-triggered.
func (m TriggerMode) ConnET() bool { return m == ModeLTET || m == ModeETET }

// Config is the full server parameter bundle plus ambient additions.
type Config struct {
	Port     int    `koanf:"port"`
	DBUser   string `koanf:"db_user"`
	DBPass   string `koanf:"db_password"`
	DBName   string `koanf:"db_name"`
	DBHost   string `koanf:"db_host"`
	DBPort   int    `koanf:"db_port"`

	LogWrite  int  `koanf:"log_write"`
	OptLinger int  `koanf:"opt_linger"` // 0: {onoff:0,linger:1}; 1: {onoff:1,linger:1}
	TrigMode  int  `koanf:"trig_mode"`  // 0..3
	SQLConnN  int  `koanf:"sql_conn_n"`
	ThreadN   int  `koanf:"thread_n"`
	CloseLog  int  `koanf:"close_log"`
	ActorModel int `koanf:"actor_model"` // 0=proactor(P), 1=reactor(R)

	MaxFD           int    `koanf:"max_fd"`
	MaxRequests     int    `koanf:"max_requests"`
	TimeslotSeconds int    `koanf:"timeslot_seconds"`
	MetricsAddr     string `koanf:"metrics_addr"`
	LogLevel        string `koanf:"log_level"`
}

// DefaultConfig mirrors the original server's compiled-in defaults
// (THREAD_N=8, TIMESLOT=5) before any file overrides are applied.
func DefaultConfig() Config {
	return Config{
		Port:            9000,
		DBHost:          "127.0.0.1",
		DBPort:          5432,
		LogWrite:        1,
		OptLinger:       0,
		TrigMode:        0,
		SQLConnN:        8,
		ThreadN:         8,
		CloseLog:        0,
		ActorModel:      0,
		MaxFD:           65536,
		MaxRequests:     10000,
		TimeslotSeconds: 5,
		MetricsAddr:     ":9100",
		LogLevel:        "info",
	}
}

// Validate rejects a malformed configuration: non-positive sizes are
// rejected at construction time so no partial server is left running.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ThreadN <= 0 {
		return fmt.Errorf("config: thread_n must be positive, got %d", c.ThreadN)
	}
	if c.SQLConnN <= 0 {
		return fmt.Errorf("config: sql_conn_n must be positive, got %d", c.SQLConnN)
	}
	if c.MaxFD <= 0 {
		return fmt.Errorf("config: max_fd must be positive, got %d", c.MaxFD)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("config: max_requests must be positive, got %d", c.MaxRequests)
	}
	if c.TimeslotSeconds <= 0 {
		return fmt.Errorf("config: timeslot_seconds must be positive, got %d", c.TimeslotSeconds)
	}
	if c.TrigMode < 0 || c.TrigMode > 3 {
		return fmt.Errorf("config: trig_mode must be in [0,3], got %d", c.TrigMode)
	}
	if c.ActorModel != 0 && c.ActorModel != 1 {
		return fmt.Errorf("config: actor_model must be 0 or 1, got %d", c.ActorModel)
	}
	return nil
}

// Load reads and parses path into a Config seeded with DefaultConfig.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watcher re-loads Config on file changes and hands the safe-to-reload
// subset (log level, linger policy) to a callback; it never touches
// pool-size or trigger-mode fields, which require a restart to take effect
// from dynamic change (worker pool cannot be resized after start).
type Watcher struct {
	path   string
	onSafe func(logLevel string, optLinger int)
	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// WatchSafe starts watching path and invokes onSafe whenever it changes
// and re-parses successfully.
func WatchSafe(path string, onSafe func(logLevel string, optLinger int)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: fsnotify: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, onSafe: onSafe, fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.onSafe(cfg.LogLevel, cfg.OptLinger)
			w.mu.Unlock()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

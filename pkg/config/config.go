// Package config loads vibetunnel's environment and on-disk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Env holds the process environment variables the core consumes.
type Env struct {
	ControlDir                string
	Username                  string
	Password                  string
	Debug                     bool
	DisablePushNotifications  bool
	Port                      string
}

// LoadEnv reads the recognized VIBETUNNEL_* environment variables.
func LoadEnv() Env {
	controlDir := os.Getenv("VIBETUNNEL_CONTROL_DIR")
	if controlDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		controlDir = filepath.Join(home, ".vibetunnel")
	}

	return Env{
		ControlDir:               controlDir,
		Username:                 os.Getenv("VIBETUNNEL_USERNAME"),
		Password:                 os.Getenv("VIBETUNNEL_PASSWORD"),
		Debug:                    os.Getenv("VIBETUNNEL_DEBUG") != "",
		DisablePushNotifications: os.Getenv("VIBETUNNEL_DISABLE_PUSH_NOTIFICATIONS") != "",
		Port:                     os.Getenv("VIBETUNNEL_PORT"),
	}
}

// QuickStartEntry is one saved command in the app's quick-start list.
type QuickStartEntry struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`
}

// AppConfig is the persisted `config.json` under the control directory.
// Only the fields the core consumes are modeled; the rest of the
// companion app's config schema is out of scope here.
type AppConfig struct {
	QuickStart             []QuickStartEntry `json:"quickStart,omitempty"`
	NotificationsEnabled   bool              `json:"notificationsEnabled"`
	RepoBasePath           string            `json:"repoBasePath,omitempty"`
}

func appConfigPath(controlDir string) string {
	return filepath.Join(controlDir, "config.json")
}

// LoadAppConfig reads config.json. If the file is absent it returns the
// defaults: notifications enabled, every other field empty.
func LoadAppConfig(controlDir string) (*AppConfig, error) {
	data, err := os.ReadFile(appConfigPath(controlDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &AppConfig{NotificationsEnabled: true}, nil
		}
		return nil, fmt.Errorf("read config.json: %w", err)
	}
	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveAppConfig writes config.json atomically.
func SaveAppConfig(controlDir string, cfg *AppConfig) error {
	if err := os.MkdirAll(controlDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := appConfigPath(controlDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, appConfigPath(controlDir))
}

// Operator is an optional YAML override file for operator-level settings
// that don't belong in the app's own config.json (log level, auth mode).
type Operator struct {
	LogLevel           string `yaml:"logLevel"`
	AllowTailscaleAuth bool   `yaml:"allowTailscaleAuth"`
	AllowLocalBypass   bool   `yaml:"allowLocalBypass"`
	HQBearerToken      string `yaml:"hqBearerToken"`
}

// LoadOperator reads `<controlDir>/config.yaml`. Absence is not an error.
func LoadOperator(controlDir string) (*Operator, error) {
	path := filepath.Join(controlDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Operator{AllowLocalBypass: true}, nil
		}
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	var op Operator
	if err := yaml.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("parse config.yaml: %w", err)
	}
	return &op, nil
}

// OperatorWatcher reloads config.yaml whenever it changes on disk and
// hands the result to a callback. It changes no settings itself: what a
// reload affects is up to that callback.
type OperatorWatcher struct {
	watcher *fsnotify.Watcher
	path    string
}

// WatchOperator starts watching <controlDir>/config.yaml. onChange is
// invoked with the freshly reloaded Operator on every write event; parse
// errors are swallowed (the previous config stays in effect) since a
// mid-edit save can be transiently invalid YAML.
func WatchOperator(controlDir string, onChange func(*Operator)) (*OperatorWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(controlDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", controlDir, err)
	}
	path := filepath.Join(controlDir, "config.yaml")

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				op, err := LoadOperator(controlDir)
				if err != nil {
					continue
				}
				onChange(op)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &OperatorWatcher{watcher: w, path: path}, nil
}

// Close stops the watcher.
func (w *OperatorWatcher) Close() error { return w.watcher.Close() }

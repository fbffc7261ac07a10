package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader manages configuration loading and hot-reload via fsnotify.
type Loader struct {
	configDir   string
	mu          sync.RWMutex
	cfg         *Config
	sources     *SourcesConfig
	credentials *CredentialsConfig
	watchers    []func()
	debounce    time.Duration
	logger      *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		configDir: configDir,
		debounce:  250 * time.Millisecond,
		logger:    logger,
	}
}

// Load reads gateway.yaml, sources.yaml and the optional credentials.yaml.
// A failed load leaves the previously loaded configuration in place.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, "gateway.yaml"), cfg); err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	sources := &SourcesConfig{}
	if err := LoadFile(filepath.Join(l.configDir, "sources.yaml"), sources); err != nil {
		return fmt.Errorf("load sources config: %w", err)
	}

	creds := &CredentialsConfig{}
	if err := LoadFile(filepath.Join(l.configDir, "credentials.yaml"), creds); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load credentials config: %w", err)
		}
		l.logger.Warn("credentials config not found, local pools are empty", "dir", l.configDir)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.sources = sources
	l.credentials = creds
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir, "sources", len(sources.Sources), "models", len(sources.Models))
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Sources() *SourcesConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sources
}

func (l *Loader) Credentials() *CredentialsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.credentials
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

// Watch reloads the configuration when a YAML file in the config directory
// changes, until ctx is canceled. Bursts of events within the debounce
// interval collapse into one reload; callbacks run only after a successful
// load.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		var (
			timer   *time.Timer
			pending <-chan time.Time
			changed string
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) != ".yaml" || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				changed = event.Name
				if timer == nil {
					timer = time.NewTimer(l.debounce)
				} else {
					timer.Reset(l.debounce)
				}
				pending = timer.C
			case <-pending:
				pending = nil
				l.reload(changed)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

func (l *Loader) reload(file string) {
	l.logger.Info("config file changed, reloading", "file", file)
	if err := l.Load(); err != nil {
		l.logger.Error("failed to reload config, keeping previous", "error", err)
		return
	}
	l.mu.RLock()
	watchers := append([]func(){}, l.watchers...)
	l.mu.RUnlock()
	for _, fn := range watchers {
		fn()
	}
}

// Package policy loads and serves the rollout policy: anomaly thresholds,
// the target firmware version and the device allow-list. The policy file is
// externally owned configuration; the core only ever reads the last
// successfully loaded value.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dushixiang/iotfw/internal/models"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigError marks a policy file that exists but cannot be parsed. The
// previous policy stays in effect.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Store serves the current rollout policy. Get never blocks on I/O: the
// active policy sits behind an atomic pointer and is swapped on reload.
type Store struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[models.RolloutPolicy]
}

func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger}
	def := models.DefaultPolicy()
	s.current.Store(&def)
	return s
}

// Get returns the last successfully loaded policy, or the defaults if none
// ever loaded.
func (s *Store) Get() models.RolloutPolicy {
	return *s.current.Load()
}

// Reload re-reads the policy file. An absent file silently keeps the
// current policy; a malformed file returns a ConfigError and keeps the
// current policy. Missing keys fall back to the defaults field by field.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ConfigError{Path: s.path, Err: err}
	}

	loaded := models.DefaultPolicy()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return &ConfigError{Path: s.path, Err: err}
	}

	s.current.Store(&loaded)
	s.logger.Info("rollout policy loaded",
		zap.String("path", s.path),
		zap.Float64("cpuThreshold", loaded.CPUThreshold),
		zap.Float64("memThreshold", loaded.MemThreshold),
		zap.String("targetVersion", loaded.TargetFirmwareVersion),
		zap.Int("allowedDevices", len(loaded.AllowedDevices)))
	return nil
}

// EnsureDefault writes the default policy file when none exists, so a fresh
// install accepts the documented demo devices out of the box.
func (s *Store) EnsureDefault() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	def := models.DefaultPolicy()
	data, err := json.MarshalIndent(def, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Watch reloads the policy whenever the file changes, until done is closed.
// Reload failures are logged and the previous policy stays active; editors
// that replace the file (rename+create) are re-armed after a short wait.
func (s *Store) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					// Editors replace the file instead of writing in place;
					// re-arm on the new inode, then fall through to reload.
					time.Sleep(time.Second)
					if err := watcher.Add(s.path); err != nil {
						s.logger.Warn("policy file re-watch failed", zap.Error(err))
						continue
					}
				} else if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error("policy reload failed, keeping previous policy", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("policy watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

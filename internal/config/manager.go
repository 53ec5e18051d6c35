package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Manager holds the live config. Readers call Get on every use so a reload
// takes effect without restarting components.
type Manager struct {
	path    string
	current atomic.Pointer[Config]

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if _, err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewStaticManager serves a fixed config without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.current.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Reload reads the file again. The live config is only replaced when the
// new one loads and validates.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, statErr := os.Stat(m.path)
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	if statErr == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the file's mtime until ctx is done, calling onReload with
// each successfully reloaded config.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if onError == nil {
		onError = func(error) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		needs, err := m.NeedsReload()
		if err != nil {
			onError(err)
			continue
		}
		if !needs {
			continue
		}
		cfg, err := m.Reload()
		if err != nil {
			onError(err)
			continue
		}
		if onReload != nil {
			onReload(cfg)
		}
	}
}

// ResolvePath makes a relative config path absolute against the working
// directory so reloads survive a later chdir.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

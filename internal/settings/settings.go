// Package settings holds the configuration consumed by the discovery and
// update-check pipeline. Values are stored in a YAML file and loaded with
// defaults applied; intervals use a short suffix syntax (30s, 5m, 1h, 1d, 1w).
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DiscoveryOptions controls the compose file scan and path translation.
type DiscoveryOptions struct {
	RootPath      string `yaml:"root_path" json:"rootPath"`
	MaxDepth      int    `yaml:"max_depth" json:"maxDepth"`
	MaxFileSizeKB int    `yaml:"max_file_size_kb" json:"maxFileSizeKb"`
	HostRootPath  string `yaml:"host_root_path" json:"hostRootPath"`
	CacheTTLRaw   string `yaml:"cache_ttl" json:"-"`

	CacheTTL time.Duration `yaml:"-" json:"cacheTtl"`
}

// UpdateCheckOptions controls registry lookups and the result cache.
type UpdateCheckOptions struct {
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks" json:"maxConcurrentChecks"`
	CacheDurationRaw    string   `yaml:"cache_duration" json:"-"`
	ExcludedImages      []string `yaml:"excluded_images" json:"excludedImages"`
	Architecture        string   `yaml:"architecture" json:"architecture"`

	CacheDuration time.Duration `yaml:"-" json:"cacheDuration"`
}

// AutoCheckOptions controls the periodic background check loop.
type AutoCheckOptions struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	IntervalRaw string `yaml:"interval" json:"-"`

	Interval time.Duration `yaml:"-" json:"interval"`
}

// Settings is the root document of the settings file.
type Settings struct {
	Discovery    DiscoveryOptions   `yaml:"discovery" json:"discovery"`
	UpdateChecks UpdateCheckOptions `yaml:"update_checks" json:"updateChecks"`
	AutoCheck    AutoCheckOptions   `yaml:"auto_check" json:"autoCheck"`
}

// Store abstracts settings persistence so the daemon can re-read the check
// interval at runtime without knowing where settings live.
type Store interface {
	Current() Settings
	Reload() (Settings, error)
}

func Defaults() Settings {
	return Settings{
		Discovery: DiscoveryOptions{
			RootPath:      "/compose",
			MaxDepth:      3,
			MaxFileSizeKB: 1024,
			CacheTTLRaw:   "1m",
		},
		UpdateChecks: UpdateCheckOptions{
			MaxConcurrentChecks: 4,
			CacheDurationRaw:    "1h",
			Architecture:        "amd64",
		},
		AutoCheck: AutoCheckOptions{
			Enabled:     false,
			IntervalRaw: "1d",
		},
	}
}

// Load reads the settings file at path. A missing file is not an error: the
// defaults are returned, matching how a fresh install behaves.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		applyDefaults(&s)
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyDefaults(&s)
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}
	applyDefaults(&s)
	return s, nil
}

func applyDefaults(s *Settings) {
	if s.Discovery.MaxDepth <= 0 {
		s.Discovery.MaxDepth = 3
	}
	if s.Discovery.MaxFileSizeKB <= 0 {
		s.Discovery.MaxFileSizeKB = 1024
	}
	if s.Discovery.CacheTTLRaw == "" {
		s.Discovery.CacheTTLRaw = "1m"
	}
	if s.UpdateChecks.MaxConcurrentChecks <= 0 {
		s.UpdateChecks.MaxConcurrentChecks = 1
	}
	if s.UpdateChecks.CacheDurationRaw == "" {
		s.UpdateChecks.CacheDurationRaw = "1h"
	}
	if s.UpdateChecks.Architecture == "" {
		s.UpdateChecks.Architecture = "amd64"
	}
	if s.AutoCheck.IntervalRaw == "" {
		s.AutoCheck.IntervalRaw = "1d"
	}

	s.Discovery.CacheTTL = parseIntervalOrZero(s.Discovery.CacheTTLRaw)
	s.UpdateChecks.CacheDuration = parseIntervalOrZero(s.UpdateChecks.CacheDurationRaw)
	s.AutoCheck.Interval = parseIntervalOrZero(s.AutoCheck.IntervalRaw)
}

// FileStore is the default Store: a YAML file re-read on demand.
type FileStore struct {
	path    string
	current Settings
}

func NewFileStore(path string) (*FileStore, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, current: s}, nil
}

func (f *FileStore) Current() Settings { return f.current }

func (f *FileStore) Reload() (Settings, error) {
	s, err := Load(f.path)
	if err != nil {
		return f.current, err
	}
	f.current = s
	return s, nil
}

func parseIntervalOrZero(raw string) time.Duration {
	d, err := ParseInterval(raw)
	if err != nil {
		return 0
	}
	return d
}

// ParseInterval parses durations with s, m, h, d and w suffixes. A bare
// number is taken as seconds.
func ParseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	last := raw[len(raw)-1]
	if last >= '0' && last <= '9' {
		return time.ParseDuration(raw + "s")
	}
	value := raw[:len(raw)-1]
	var mul time.Duration
	switch last {
	case 's':
		mul = time.Second
	case 'm':
		mul = time.Minute
	case 'h':
		mul = time.Hour
	case 'd':
		mul = 24 * time.Hour
	case 'w':
		mul = 7 * 24 * time.Hour
	default:
		return 0, errors.New("invalid interval suffix")
	}
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(val * float64(mul)), nil
}

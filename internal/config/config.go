package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ErrTemplateWritten is returned by Load when no config existed and a
// template was written in its place. The operator has to fill in users.
var ErrTemplateWritten = errors.New("config: template written; add users and restart")

// Cancelled lesson display modes.
const (
	CancelledHide = "hide"
	CancelledMark = "mark"
	CancelledShow = "show"
)

// User is one timetable account served by this instance.
type User struct {
	School   string `yaml:"school" json:"school"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// BaseURL is the WebUntis server, with or without scheme and path
	// (e.g. "https://mese.webuntis.com/WebUntis").
	BaseURL string `yaml:"baseurl" json:"baseurl"`
	// FriendlyName is the path segment under /timetable/ and the calendar title.
	FriendlyName string `yaml:"friendly_name" json:"friendly_name"`

	// Language is the default calendar language ("en" or "de") when the
	// request does not ask for one.
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
	// CancelledDisplay is one of "hide", "mark" (default), "show".
	CancelledDisplay string `yaml:"cancelled_display,omitempty" json:"cancelled_display,omitempty"`
	// AccessTokens, if set, gate the feed; any one of them is accepted.
	AccessTokens []string `yaml:"access_tokens,omitempty" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone lessons are placed in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DaysBefore / DaysAfter span the requested range around today.
	DaysBefore int `yaml:"days_before" json:"days_before"`
	DaysAfter  int `yaml:"days_after" json:"days_after"`

	// CacheDuration is the rendered feed TTL in seconds.
	CacheDuration int `yaml:"cache_duration" json:"cache_duration"`

	// SessionTTL bounds how long a WebUntis login is reused.
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`

	// SweepInterval is how often expired feeds are purged.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Users []User `yaml:"users" json:"users"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":7464",
		Timezone:      "Europe/Berlin",
		DaysBefore:    7,
		DaysAfter:     28,
		CacheDuration: 600,
		SessionTTL:    5 * time.Minute,
		SweepInterval: time.Minute,
		LogLevel:      "info",
		Users:         []User{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DaysBefore < 0 {
		c.DaysBefore = 0
	}
	if c.DaysAfter < 0 {
		c.DaysAfter = 0
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Users == nil {
		c.Users = []User{}
	}
	for i := range c.Users {
		u := &c.Users[i]
		u.Language = strings.ToLower(strings.TrimSpace(u.Language))
		switch strings.ToLower(u.CancelledDisplay) {
		case CancelledHide, CancelledShow:
			u.CancelledDisplay = strings.ToLower(u.CancelledDisplay)
		default:
			u.CancelledDisplay = CancelledMark
		}
	}
}

// Validate reports problems that make the config unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheDuration <= 0 {
		errs = append(errs, errors.New("cache_duration must be a positive number of seconds"))
	}
	if len(c.Users) == 0 {
		errs = append(errs, errors.New("users must not be empty"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}

	seenNames := make(map[string]bool)
	seenUsers := make(map[string]bool)
	for i, u := range c.Users {
		if u.School == "" || u.Username == "" || u.Password == "" || u.BaseURL == "" {
			errs = append(errs, fmt.Errorf("users[%d]: school, username, password and baseurl are required", i))
		}
		if u.FriendlyName == "" {
			errs = append(errs, fmt.Errorf("users[%d]: friendly_name is required", i))
		}
		name := strings.ToLower(u.FriendlyName)
		if seenNames[name] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate friendly_name %q", i, u.FriendlyName))
		}
		seenNames[name] = true
		if seenUsers[u.Username] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		}
		seenUsers[u.Username] = true
	}
	return errors.Join(errs...)
}

// CacheTTL returns CacheDuration as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDuration) * time.Second
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UserByName finds a user by friendly name, case-insensitively.
func (c *Config) UserByName(name string) *User {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range c.Users {
		if strings.ToLower(c.Users[i].FriendlyName) == name {
			return &c.Users[i]
		}
	}
	return nil
}

// ResolvePath picks the config path: CONFIG_PATH, then CONFIG_FILE, then
// the flag value.
func ResolvePath(flagPath string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return flagPath
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a template is written with 0600 perms and
// ErrTemplateWritten is returned together with the template config.
// Otherwise the YAML is parsed, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, ErrTemplateWritten
		}
		return nil, err
	}

	return Parse(data)
}

// Parse decodes, normalizes and validates YAML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the file holds passwords).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".untiscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

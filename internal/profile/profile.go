// Package profile loads profiles.yml: warehouse credentials and
// connection-pool knobs, with ${VAR} / ${VAR:-default} substitution from
// the process environment. Organized in the teacher's
// DefaultConfig/Load/applyEnvOverrides shape (internal/config/config.go in
// the teacher), generalized to the single Profile this domain needs.
package profile

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile holds one warehouse connection target plus pool knobs.
type Profile struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	Threads      int           `yaml:"threads"`
	PoolSize     int           `yaml:"pool_size"`
	LazyInit     bool          `yaml:"lazy_init"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Target is the environment name this Profile was selected under,
	// set by Load (the requested name, or profiles.yml's default_target
	// when the caller passed ""). Not part of the YAML shape itself.
	Target string `yaml:"-"`
}

// File is the root document of profiles.yml: one profile per named
// environment, with a default_target selecting which to use when a
// command doesn't pass --environment.
type File struct {
	DefaultTarget string             `yaml:"default_target"`
	Profiles      map[string]Profile `yaml:"profiles"`
}

// DefaultProfile returns conservative pool defaults, applied before YAML
// and env overrides so unset fields still have sane values.
func DefaultProfile() Profile {
	return Profile{
		Threads:      4,
		PoolSize:     4,
		LazyInit:     true,
		MaxRetries:   5,
		RetryDelay:   time.Second,
		QueryTimeout: 5 * time.Minute,
	}
}

// Load reads profiles.yml from path and returns the profile selected by
// environment (or DefaultTarget if environment is empty).
func Load(path, environment string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	expanded := expandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}

	env := environment
	if env == "" {
		env = f.DefaultTarget
	}
	if env == "" {
		return nil, fmt.Errorf("no environment specified and profiles file has no default_target")
	}

	p, ok := f.Profiles[env]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env)
	}

	merged := DefaultProfile()
	mergeNonZero(&merged, &p)
	// A plain bool cannot tell an omitted lazy_init from an explicit
	// false, so the key's presence is read separately.
	var presence struct {
		Profiles map[string]struct {
			LazyInit *bool `yaml:"lazy_init"`
		} `yaml:"profiles"`
	}
	if err := yaml.Unmarshal([]byte(expanded), &presence); err == nil {
		if li := presence.Profiles[env].LazyInit; li != nil {
			merged.LazyInit = *li
		}
	}
	merged.Target = env
	return &merged, nil
}

// mergeNonZero overlays every non-zero-valued field of override onto base.
func mergeNonZero(base, override *Profile) {
	if override.Type != "" {
		base.Type = override.Type
	}
	if override.Host != "" {
		base.Host = override.Host
	}
	if override.Port != 0 {
		base.Port = override.Port
	}
	if override.Database != "" {
		base.Database = override.Database
	}
	if override.Schema != "" {
		base.Schema = override.Schema
	}
	if override.User != "" {
		base.User = override.User
	}
	if override.Password != "" {
		base.Password = override.Password
	}
	if override.Threads != 0 {
		base.Threads = override.Threads
	}
	if override.PoolSize != 0 {
		base.PoolSize = override.PoolSize
	}
	if override.LazyInit {
		base.LazyInit = override.LazyInit
	}
	if override.MaxRetries != 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.RetryDelay != 0 {
		base.RetryDelay = override.RetryDelay
	}
	if override.QueryTimeout != 0 {
		base.QueryTimeout = override.QueryTimeout
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} with the process
// environment value, falling back to the default (or empty string) when
// VAR is unset. This is the only substitution pass profiles.yml gets;
// it runs before YAML parsing so it works on arbitrary scalar fields.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

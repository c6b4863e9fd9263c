package config

import (
	"bytes"
	"cohortq/internal/identitycache"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository kinds a cohort file may list.
const (
	KindREST   = "rest"
	KindMemory = "memory"
)

// CohortFile is the YAML document naming the repositories of a cohort in the
// order the controller asks them.
type CohortFile struct {
	CallerID      string               `yaml:"callerId"`
	IdentityCache identitycache.Config `yaml:"identityCache"`
	Repositories  []RepositorySpec     `yaml:"repositories"`
}

// RepositorySpec describes one cohort member.
type RepositorySpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// rest
	URL       string        `yaml:"url"`
	TokenEnv  string        `yaml:"tokenEnv"`
	RateLimit float64       `yaml:"rateLimit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`

	// memory
	ID      string        `yaml:"id"`
	Seed    string        `yaml:"seed"`
	Latency time.Duration `yaml:"latency"`
	Failure string        `yaml:"failure"`
}

// Token reads the bearer token from the environment variable named by TokenEnv.
func (r RepositorySpec) Token() string {
	if r.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(r.TokenEnv))
}

// LoadCohortFile reads and validates a cohort file. Relative seed paths are
// resolved against the file's directory.
func LoadCohortFile(path string) (*CohortFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cohort file: %w", err)
	}

	var cf CohortFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("parse cohort file %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range cf.Repositories {
		r := &cf.Repositories[i]
		if r.Seed != "" && !filepath.IsAbs(r.Seed) {
			r.Seed = filepath.Join(dir, r.Seed)
		}
	}

	if err := cf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cohort file %s: %w", path, err)
	}
	return &cf, nil
}

func (cf *CohortFile) Validate() error {
	if len(cf.Repositories) == 0 {
		return errors.New("no repositories listed")
	}

	seen := make(map[string]struct{}, len(cf.Repositories))
	for i := range cf.Repositories {
		r := &cf.Repositories[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return fmt.Errorf("repository %d: name is required", i+1)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("repository %q listed twice", r.Name)
		}
		seen[r.Name] = struct{}{}

		r.Kind = normalizeEnumValue(r.Kind)
		if r.Kind == "" {
			r.Kind = KindREST
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("repository %q: %w", r.Name, err)
		}
	}
	return nil
}

func (r *RepositorySpec) validate() error {
	switch r.Kind {
	case KindREST:
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("url must be an http or https URL, got %q", r.URL)
		}
		if r.RateLimit < 0 || r.Burst < 0 {
			return errors.New("rateLimit and burst must be >= 0")
		}
		if r.Timeout < 0 {
			return errors.New("timeout must be >= 0")
		}
	case KindMemory:
		if r.Latency < 0 {
			return errors.New("latency must be >= 0")
		}
		switch normalizeEnumValue(r.Failure) {
		case "", "unavailable", "malformed":
		default:
			return fmt.Errorf("unsupported failure %q (must be one of: unavailable, malformed)", r.Failure)
		}
	default:
		return fmt.Errorf("unsupported kind %q (must be one of: %s, %s)", r.Kind, KindREST, KindMemory)
	}
	return nil
}

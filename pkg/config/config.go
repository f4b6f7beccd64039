// Package config loads the main declarative configuration file and
// resolves the on-disk layout under the configuration root.
package config

import (
	"path/filepath"
	"regexp"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/repo"
)

// Config is the parsed config.toml.
type Config struct {
	Arch string                `toml:"arch"`
	Repo map[string]RepoConfig `toml:"repo"`
}

// RepoConfig is one [repo.<name>] table.
type RepoConfig struct {
	Source       string   `toml:"source"`
	Distribution string   `toml:"distribution"`
	Components   []string `toml:"components"`
	Keys         []string `toml:"keys"`
}

// Layout names the files praxis reads and writes under its roots.
type Layout struct {
	ConfigRoot string
	CacheRoot  string
}

func (l Layout) ConfigFile() string    { return filepath.Join(l.ConfigRoot, "config.toml") }
func (l Layout) UserBlueprint() string { return filepath.Join(l.ConfigRoot, "user.blueprint") }
func (l Layout) OverlayDir() string    { return filepath.Join(l.ConfigRoot, "blueprint.d") }
func (l Layout) KeysDir() string       { return filepath.Join(l.ConfigRoot, "keys") }
func (l Layout) PackageCache() string  { return filepath.Join(l.CacheRoot, "pkgs") }
func (l Layout) MetadataRoot() string  { return filepath.Join(l.CacheRoot, "db") }

var keyFilename = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if err := c.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", path)
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Arch == "" {
		return errors.New("arch must be set")
	}
	for name, rc := range c.Repo {
		if rc.Source == "" {
			return errors.Errorf("repo.%s.source must be set", name)
		}
		if rc.Distribution == "" {
			return errors.Errorf("repo.%s.distribution must be set", name)
		}
		if len(rc.Components) == 0 {
			return errors.Errorf("repo.%s.components must not be empty", name)
		}
		if len(rc.Keys) == 0 {
			return errors.Errorf("repo.%s.keys must not be empty", name)
		}
		for _, key := range rc.Keys {
			if !keyFilename.MatchString(key) {
				return errors.Errorf("invalid character in key file name %q for repo %s", key, name)
			}
		}
	}
	return nil
}

// Repositories maps the configuration onto repository descriptors,
// sorted by name, with key files resolved against the keys directory.
func (c *Config) Repositories(keysDir string) []repo.Repository {
	names := make([]string, 0, len(c.Repo))
	for name := range c.Repo {
		names = append(names, name)
	}
	sort.Strings(names)

	repos := make([]repo.Repository, 0, len(names))
	for _, name := range names {
		rc := c.Repo[name]
		keyPaths := make([]string, len(rc.Keys))
		for i, key := range rc.Keys {
			keyPaths[i] = filepath.Join(keysDir, key)
		}
		repos = append(repos, repo.Repository{
			Name:         name,
			Source:       rc.Source,
			Distribution: rc.Distribution,
			Components:   rc.Components,
			KeyPaths:     keyPaths,
		})
	}
	return repos
}

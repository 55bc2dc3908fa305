// Package config loads image fixture definitions from YAML files, and image
// environments from dotenv files.
package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Fixture describes one image tarball. Entrypoint and Cmd are JSON literals,
// so in YAML they are usually quoted: entrypoint: '["sh", "-c"]'
type Fixture struct {
	Directory   string   `yaml:"directory"`
	Name        string   `yaml:"name"`
	Entrypoint  string   `yaml:"entrypoint"`
	Cmd         string   `yaml:"cmd"`
	Environment []string `yaml:"environment"`
	EnvFile     string   `yaml:"env_file"`
}

// LoadFixture reads a fixture definition. If the definition names an env
// file then the variables in it are appended to Environment in key order. A
// relative env file is relative to the directory of the fixture file.
func LoadFixture(fs afero.Fs, path string) (Fixture, error) {
	fixture := Fixture{}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return fixture, err
	}
	if err := yaml.UnmarshalStrict(b, &fixture); err != nil {
		return fixture, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	if fixture.EnvFile != "" {
		envFile := fixture.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(filepath.Dir(path), envFile)
		}
		env, err := LoadEnvFile(fs, envFile)
		if err != nil {
			return fixture, err
		}
		fixture.Environment = append(fixture.Environment, env...)
	}
	return fixture, nil
}

// LoadEnvFile parses a dotenv file and returns its variables as 'KEY=VALUE'
// strings sorted by key. Dotenv files have no inherent order so sorting keeps
// the image config deterministic.
func LoadEnvFile(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}

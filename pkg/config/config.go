// Package config reads the lspbridge configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/filmil/lspbridge/pkg/store"
)

var ErrInvalid = errors.New("invalid config")

// Server describes how to start a language server.
type Server struct {
	// Command is the server binary, e.g. "rust-analyzer".
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	// Root is the workspace folder given to the server.
	Root string `yaml:"root"`
	// LanguageID is sent in didOpen, e.g. "rust" or "cpp".
	LanguageID string `yaml:"language_id"`
}

type Config struct {
	ProjectID uint64 `yaml:"project_id"`
	// Socket is the unix socket the host listens on, and guests dial.
	Socket string `yaml:"socket"`
	// DB is the edit-history database file.
	DB     string `yaml:"db"`
	Server Server `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ProjectID: 1,
		Socket:    filepath.Join(os.TempDir(), "lspbridge.sock"),
		DB:        store.DefaultFilename,
	}
}

// Load reads the file at path on top of the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("could not read config: %v: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("could not parse config: %v: %w", path, err)
	}
	glog.V(1).Infof("config from %v: %+v", path, c)
	return c, nil
}

// Validate checks the fields every mode needs. A host additionally needs a
// server command.
func (c Config) Validate(host bool) error {
	if c.ProjectID == 0 {
		return fmt.Errorf("%w: project_id must not be 0", ErrInvalid)
	}
	if c.Socket == "" {
		return fmt.Errorf("%w: socket is required", ErrInvalid)
	}
	if !host {
		return nil
	}
	if c.Server.Command == "" {
		return fmt.Errorf("%w: server.command is required", ErrInvalid)
	}
	if c.Server.Root != "" && !filepath.IsAbs(c.Server.Root) {
		return fmt.Errorf("%w: server.root must be absolute: %q", ErrInvalid, c.Server.Root)
	}
	return nil
}

// Package credentials loads the SIP account credentials and watches the
// credentials file so a session waiting for them can connect once they appear.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigurationMissing indicates the credentials are not available yet.
// A session recovers from it by waiting, not by failing.
var ErrConfigurationMissing = errors.New("configuration missing")

// Credentials identify the account at the signaling server.
type Credentials struct {
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
}

// Source loads credentials on demand.
type Source interface {
	Load() (Credentials, error)
}

// File reads credentials from a YAML file:
//
//	id: "1001"
//	password: "secret"
type File struct {
	path string
}

// NewFile returns a source backed by path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the credentials file path.
func (f *File) Path() string {
	return f.path
}

// Load reads and validates the file. A missing file or a file without both
// fields yields ErrConfigurationMissing.
func (f *File) Load() (Credentials, error) {
	if f.path == "" {
		return Credentials{}, fmt.Errorf("no credentials file: %w", ErrConfigurationMissing)
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf("%s: %w", f.path, ErrConfigurationMissing)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" || c.Password == "" {
		return Credentials{}, fmt.Errorf("%s: incomplete: %w", f.path, ErrConfigurationMissing)
	}
	return c, nil
}

// Static is a fixed set of credentials, e.g. from flags or the environment.
type Static Credentials

// Load returns the credentials, or ErrConfigurationMissing if a field is empty.
func (s Static) Load() (Credentials, error) {
	if s.ID == "" || s.Password == "" {
		return Credentials{}, ErrConfigurationMissing
	}
	return Credentials(s), nil
}

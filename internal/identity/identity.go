// Package identity supplies the anonymous per-device user identifier
// that scopes every remote path.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Provider yields the opaque uid for this installation.
type Provider interface {
	// UID returns the identity token. Must be stable across calls.
	UID() (string, error)
}

// FileProvider persists an anonymous identity under the data directory.
// The first call generates a fresh uid and writes it; later calls (and
// later runs) return the same value, making anonymous sign-in idempotent
// per installation.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider storing the identity in
// {dataDir}/identity.
func NewFileProvider(dataDir string) *FileProvider {
	return &FileProvider{path: filepath.Join(dataDir, "identity")}
}

// UID implements Provider.
func (p *FileProvider) UID() (string, error) {
	data, err := os.ReadFile(p.path)
	if err == nil {
		uid := strings.TrimSpace(string(data))
		if uid != "" {
			return uid, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	uid := ulid.Make().String()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(uid+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write identity file: %w", err)
	}

	return uid, nil
}

// Static is a fixed identity, for tests and tooling.
type Static string

// UID implements Provider.
func (s Static) UID() (string, error) {
	return string(s), nil
}

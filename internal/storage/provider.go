// Package storage defines the cache-folder file-system abstraction.
package storage

import "github.com/starford/spices/internal/models"

// Provider is the interface for operations on one cache folder.
type Provider interface {
	// List returns the regular files directly under the folder.
	List() ([]models.CachedFile, error)
	// Read returns the raw bytes of name.
	Read(name string) ([]byte, error)
	// Write atomically replaces name with content.
	Write(name string, content []byte) error
	// Delete removes name.
	Delete(name string) error
	// Exists reports whether name is present.
	Exists(name string) bool
	// Path returns the absolute path of name.
	Path(name string) (string, error)
	// Root returns the absolute folder path.
	Root() string
}

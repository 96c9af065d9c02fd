// Package localmeta builds the map of installed spices of one type.
package localmeta

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/starford/spices/internal/metadata"
	"github.com/starford/spices/internal/models"
)

// Dir is one install location. System dirs are never created and are
// usually read-only.
type Dir struct {
	Path   string
	System bool
}

// Scanner reads metadata.json of every installed spice.
type Scanner struct {
	kind   models.PackageType
	dirs   []Dir
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]models.LocalEntry
}

// New creates a scanner over dirs, in priority order.
func New(kind models.PackageType, dirs []Dir, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		kind:    kind,
		dirs:    dirs,
		logger:  logger,
		entries: map[string]models.LocalEntry{},
	}
}

// MetadataPath is where the metadata of an installed spice lives.
// Themes keep theirs in the cinnamon/ subdirectory.
func MetadataPath(kind models.PackageType, spiceDir string) string {
	if kind.IsTheme() {
		return filepath.Join(spiceDir, "cinnamon", metadata.FileName)
	}
	return filepath.Join(spiceDir, metadata.FileName)
}

// InstallDir is the first user (non-system) install directory.
func (s *Scanner) InstallDir() string {
	for _, d := range s.dirs {
		if !d.System {
			return d.Path
		}
	}
	return ""
}

// Dirs returns the configured install directories.
func (s *Scanner) Dirs() []Dir {
	return append([]Dir(nil), s.dirs...)
}

// Reload rescans every directory and replaces the map wholesale.
func (s *Scanner) Reload() {
	entries := make(map[string]models.LocalEntry)
	for _, d := range s.dirs {
		s.scanDir(d, entries)
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

func (s *Scanner) scanDir(d Dir, into map[string]models.LocalEntry) {
	if _, err := os.Stat(d.Path); errors.Is(err, os.ErrNotExist) {
		if d.System {
			return
		}
		if err := os.MkdirAll(d.Path, 0o755); err != nil {
			s.logger.Warn("localmeta: create install dir failed",
				slog.String("dir", d.Path), slog.String("error", err.Error()))
			return
		}
	}

	items, err := os.ReadDir(d.Path)
	if err != nil {
		s.logger.Warn("localmeta: read install dir failed",
			slog.String("dir", d.Path), slog.String("error", err.Error()))
		return
	}
	writable := unix.Access(d.Path, unix.W_OK) == nil

	for _, item := range items {
		uuid := item.Name()
		if strings.HasPrefix(uuid, ".") {
			continue
		}
		if _, seen := into[uuid]; seen {
			continue
		}
		spiceDir := filepath.Join(d.Path, uuid)
		// Stat follows symlinked spice directories.
		if info, err := os.Stat(spiceDir); err != nil || !info.IsDir() {
			continue
		}
		entry, ok := s.readEntry(uuid, spiceDir)
		if !ok {
			continue
		}
		entry.Writable = writable
		into[uuid] = entry
	}
}

func (s *Scanner) readEntry(uuid, spiceDir string) (models.LocalEntry, bool) {
	if s.kind.IsTheme() {
		if info, err := os.Stat(filepath.Join(spiceDir, "cinnamon")); err != nil || !info.IsDir() {
			return models.LocalEntry{}, false
		}
	}

	metaPath := MetadataPath(s.kind, spiceDir)
	meta, err := metadata.Read(metaPath)
	if err != nil {
		if s.kind.IsTheme() && errors.Is(err, os.ErrNotExist) {
			return models.LocalEntry{UUID: uuid, Name: uuid, Path: spiceDir}, true
		}
		s.logger.Warn("localmeta: skipping unreadable metadata",
			slog.String("type", s.kind.String()),
			slog.String("uuid", uuid),
			slog.String("error", err.Error()))
		return models.LocalEntry{}, false
	}

	meta.UUID = uuid
	if meta.Name == "" {
		meta.Name = uuid
	}
	meta.Path = spiceDir
	return *meta, true
}

// Entries returns a copy of the installed map.
func (s *Scanner) Entries() map[string]models.LocalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.LocalEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Get returns one installed entry.
func (s *Scanner) Get(uuid string) (models.LocalEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[uuid]
	return e, ok
}

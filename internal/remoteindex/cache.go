// Package remoteindex mirrors the remote catalog of one package type on disk.
package remoteindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/fetch"
	"github.com/starford/spices/internal/locale"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/storage"
)

// IndexFile is the mirror's name inside the type's cache folder.
const IndexFile = "index.json"

// bucketSeconds is the width of the cache-busting window sent as ?time=.
const bucketSeconds = 600

// Options configures a Cache.
type Options struct {
	Type     models.PackageType
	BaseURL  string
	Store    storage.Provider
	Client   *fetch.Client
	Resolver *locale.Resolver
	Logger   *slog.Logger
	Now      func() time.Time
}

// Cache holds the on-disk index and its parsed form.
type Cache struct {
	kind     models.PackageType
	baseURL  string
	store    storage.Provider
	client   *fetch.Client
	resolver *locale.Resolver
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	entries  map[string]models.RemoteEntry
	hasCache bool
}

// New creates a cache. It performs no I/O.
func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = locale.NewResolver("")
	}
	return &Cache{
		kind:     opts.Type,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		store:    opts.Store,
		client:   opts.Client,
		resolver: opts.Resolver,
		logger:   opts.Logger,
		now:      opts.Now,
		entries:  map[string]models.RemoteEntry{},
	}
}

// ManifestURL is the index URL for the current time bucket.
func (c *Cache) ManifestURL() string {
	return fmt.Sprintf("%s/json/%s.json?time=%d", c.baseURL, c.kind.Plural(), c.now().Unix()/bucketSeconds)
}

// Refresh downloads the manifest and replaces the on-disk mirror with it.
// The mirror is only written once the body is known to be a valid index;
// on any failure the previous file is left as it was.
func (c *Cache) Refresh(ctx context.Context) error {
	url := c.ManifestURL()
	data, err := c.client.Get(ctx, url)
	if err != nil {
		return err
	}
	if _, err := c.decode(data); err != nil {
		return apperr.Parse("refresh index "+c.kind.String(), "", err)
	}
	if err := c.store.Write(IndexFile, data); err != nil {
		return apperr.Filesystem("write index "+c.kind.String(), "", err)
	}
	c.logger.Debug("remoteindex: refreshed", slog.String("type", c.kind.String()), slog.Int("bytes", len(data)))
	return nil
}

// Load replaces the in-memory map with the contents of the on-disk mirror.
// A missing mirror is not an error; a corrupt one is deleted. Any other read
// failure keeps the entries already loaded.
func (c *Cache) Load() error {
	data, err := c.store.Read(IndexFile)
	if errors.Is(err, os.ErrNotExist) {
		c.clear()
		return nil
	}
	if err != nil {
		return apperr.Filesystem("read index "+c.kind.String(), "", err)
	}

	entries, err := c.decode(data)
	if err != nil {
		c.clear()
		if delErr := c.store.Delete(IndexFile); delErr != nil {
			c.logger.Warn("remoteindex: delete corrupt index failed",
				slog.String("type", c.kind.String()), slog.String("error", delErr.Error()))
		}
		return apperr.Parse("load index "+c.kind.String(), "", err)
	}

	c.mu.Lock()
	c.entries = entries
	c.hasCache = true
	c.mu.Unlock()
	return nil
}

func (c *Cache) clear() {
	c.mu.Lock()
	c.entries = map[string]models.RemoteEntry{}
	c.hasCache = false
	c.mu.Unlock()
}

func (c *Cache) decode(data []byte) (map[string]models.RemoteEntry, error) {
	var raw map[string]models.RemoteEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("index is not a JSON object")
	}
	out := make(map[string]models.RemoteEntry, len(raw))
	for key, e := range raw {
		if e.UUID == "" {
			e.UUID = key
		}
		e.Name = c.resolver.Resolve(e.Translations, "name", e.Name)
		e.Description = c.resolver.Resolve(e.Translations, "description", e.Description)
		out[key] = e
	}
	return out, nil
}

// HasCache reports whether the last Load found a usable mirror.
func (c *Cache) HasCache() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasCache
}

// Entries returns a copy of the parsed index.
func (c *Cache) Entries() map[string]models.RemoteEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.RemoteEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Get returns one entry.
func (c *Cache) Get(uuid string) (models.RemoteEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uuid]
	return e, ok
}

// Age returns how long ago the mirror was written.
func (c *Cache) Age() (time.Duration, bool) {
	p, err := c.store.Path(IndexFile)
	if err != nil {
		return 0, false
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, false
	}
	return c.now().Sub(info.ModTime()), true
}

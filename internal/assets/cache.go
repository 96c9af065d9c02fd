// Package assets keeps the cached preview images of one package type in
// step with the remote index.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/checksum"
	"github.com/starford/spices/internal/fetch"
	"github.com/starford/spices/internal/ledger"
	"github.com/starford/spices/internal/metrics"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/storage"
	"github.com/starford/spices/internal/workpool"
)

// Options configures a Cache.
type Options struct {
	Type    models.PackageType
	BaseURL string
	Store   storage.Provider
	Ledger  ledger.Ledger
	Client  *fetch.Client
	Workers int
	// Protected names are never garbage collected.
	Protected []string
	Logger    *slog.Logger
}

// Cache downloads missing or stale previews and deletes orphans.
type Cache struct {
	kind      models.PackageType
	baseURL   string
	store     storage.Provider
	ledger    ledger.Ledger
	client    *fetch.Client
	pool      *workpool.Pool[*download]
	protected map[string]struct{}
	logger    *slog.Logger
}

type download struct {
	uuid       string
	file       string
	url        string
	lastEdited int64
	sum        string
}

// Failure is one preview that could not be fetched.
type Failure struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
	Err  error  `json:"-"`
}

// Report summarises one Refresh.
type Report struct {
	Checked    int       `json:"checked"`
	Downloaded int       `json:"downloaded"`
	Failed     []Failure `json:"failed,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	Pruned     int       `json:"pruned"`
}

// Err joins the individual download failures.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// New creates an asset cache.
func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Cache{
		kind:      opts.Type,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		store:     opts.Store,
		ledger:    opts.Ledger,
		client:    opts.Client,
		protected: make(map[string]struct{}, len(opts.Protected)),
		logger:    opts.Logger,
	}
	for _, p := range opts.Protected {
		c.protected[p] = struct{}{}
	}
	c.pool = workpool.New(opts.Workers, c.fetch)
	return c
}

// Path returns the local file of e's preview, if it is cached. Files the
// ledger has no record of (left over from an interrupted refresh) are not
// served.
func (c *Cache) Path(e models.RemoteEntry) (string, bool) {
	name := e.ThumbName(c.kind)
	if name == "" || !c.store.Exists(name) {
		return "", false
	}
	row, ok, err := c.ledger.Asset(e.UUID)
	if err != nil {
		c.logger.Warn("assets: ledger lookup failed",
			slog.String("uuid", e.UUID), slog.String("error", err.Error()))
		return "", false
	}
	if !ok || row.File != name {
		return "", false
	}
	p, err := c.store.Path(name)
	return p, err == nil
}

// Refresh brings the cache in line with entries. It blocks until every
// download has resolved, then removes files and ledger rows of spices that
// are no longer listed. Individual download failures are reported, not
// returned.
func (c *Cache) Refresh(ctx context.Context, entries map[string]models.RemoteEntry) (*Report, error) {
	report := &Report{}

	rows, err := c.ledger.AllAssets()
	if err != nil {
		c.logger.Warn("assets: reading ledger failed, treating all previews as stale",
			slog.String("type", c.kind.String()), slog.String("error", err.Error()))
		rows = map[string]ledger.AssetRow{}
	}

	uuids := make([]string, 0, len(entries))
	for uuid := range entries {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	expected := make(map[string]struct{}, len(entries))
	keep := make(map[string]struct{}, len(entries))
	var tasks []*download
	for _, uuid := range uuids {
		e := entries[uuid]
		keep[uuid] = struct{}{}
		name := e.ThumbName(c.kind)
		if name == "" {
			continue
		}
		if _, dup := expected[name]; dup {
			continue
		}
		expected[name] = struct{}{}
		report.Checked++

		row, ok := rows[uuid]
		if !c.stale(name, e.LastEdited, row, ok) {
			continue
		}
		tasks = append(tasks, &download{
			uuid:       uuid,
			file:       name,
			url:        c.baseURL + e.Thumb(c.kind),
			lastEdited: e.LastEdited,
		})
	}

	runErr := c.pool.Run(ctx, tasks, func(r workpool.Result[*download]) {
		d := r.Task
		if r.Err == nil {
			r.Err = c.ledger.UpsertAsset(ledger.AssetRow{
				UUID:       d.uuid,
				File:       d.file,
				URL:        d.url,
				LastEdited: d.lastEdited,
				Checksum:   d.sum,
				FetchedAt:  time.Now(),
			})
		}
		metrics.AssetDownloadsTotal.WithLabelValues(c.kind.String(), metrics.Status(r.Err)).Inc()
		if r.Err != nil {
			c.logger.Warn("assets: download failed",
				slog.String("type", c.kind.String()),
				slog.String("uuid", d.uuid),
				slog.String("url", d.url),
				slog.String("error", r.Err.Error()))
			report.Failed = append(report.Failed, Failure{UUID: d.uuid, URL: d.url, Err: r.Err})
			return
		}
		report.Downloaded++
	})
	if runErr != nil {
		return report, runErr
	}

	c.collect(expected, report)

	pruned, err := c.ledger.PruneAssets(keep)
	if err != nil {
		c.logger.Warn("assets: pruning ledger failed",
			slog.String("type", c.kind.String()), slog.String("error", err.Error()))
	}
	report.Pruned = pruned

	c.logger.Info("assets: refreshed",
		slog.String("type", c.kind.String()),
		slog.Int("checked", report.Checked),
		slog.Int("downloaded", report.Downloaded),
		slog.Int("failed", len(report.Failed)),
		slog.Int("removed", len(report.Removed)))
	return report, nil
}

// stale reports whether the preview must be fetched again.
func (c *Cache) stale(name string, lastEdited int64, row ledger.AssetRow, hasRow bool) bool {
	if !hasRow || row.LastEdited != lastEdited || row.File != name {
		return true
	}
	data, err := c.store.Read(name)
	if err != nil {
		return true
	}
	if row.Checksum != "" && row.Checksum != checksum.Sum(data) {
		return true
	}
	return Validate(name, data) != nil
}

func (c *Cache) fetch(ctx context.Context, d *download) error {
	data, err := c.client.Get(ctx, d.url)
	if err != nil {
		return err
	}
	if err := Validate(d.file, data); err != nil {
		return apperr.Parse("validate preview", d.uuid, err)
	}
	if err := c.store.Write(d.file, data); err != nil {
		return apperr.Filesystem("write preview", d.uuid, err)
	}
	d.sum = checksum.Sum(data)
	return nil
}

// collect deletes every file that is neither expected nor protected.
func (c *Cache) collect(expected map[string]struct{}, report *Report) {
	files, err := c.store.List()
	if err != nil {
		c.logger.Warn("assets: listing cache failed",
			slog.String("type", c.kind.String()), slog.String("error", err.Error()))
		return
	}
	for _, f := range files {
		if _, ok := expected[f.Name]; ok {
			continue
		}
		if _, ok := c.protected[f.Name]; ok {
			continue
		}
		if err := c.store.Delete(f.Name); err != nil {
			c.logger.Warn("assets: removing orphan failed",
				slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		report.Removed = append(report.Removed, f.Name)
	}
	if n := len(report.Removed); n > 0 {
		metrics.AssetsRemovedTotal.WithLabelValues(c.kind.String()).Add(float64(n))
	}
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.UUID, f.URL, f.Err)
}

// Package harvester ties together the caches, the local scanner and the
// installer of one package type, and manages one harvester per type.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/assets"
	"github.com/starford/spices/internal/fetch"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/ledger"
	"github.com/starford/spices/internal/locale"
	"github.com/starford/spices/internal/localmeta"
	"github.com/starford/spices/internal/metrics"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/remoteindex"
	"github.com/starford/spices/internal/storage"
	"github.com/starford/spices/internal/updates"
)

// Notifier is told about completed changes so the desktop can reload the
// affected spice.
type Notifier interface {
	SpiceChanged(res *installer.Result)
	CacheRefreshed(report *RefreshReport)
}

// EnabledSource answers which uuids of a type are currently enabled.
type EnabledSource interface {
	EnabledUUIDs(ctx context.Context, kind models.PackageType) ([]string, error)
}

// Options configures a Harvester.
type Options struct {
	Type    models.PackageType
	BaseURL string
	// CacheDir is the shared cache root; this type uses <CacheDir>/<type>/
	// and <CacheDir>/<type>.ledger.db.
	CacheDir    string
	InstallDirs []localmeta.Dir
	LocaleDir   string
	SettingsDir string

	HTTPClient     *http.Client
	IndexTimeout   time.Duration
	AssetTimeout   time.Duration
	ArchiveTimeout time.Duration
	Workers        int
	Locale         string

	Compiler installer.Compiler
	Activity installer.Recorder
	Notifier Notifier
	Enabled  EnabledSource
	Logger   *slog.Logger
	Now      func() time.Time
}

// Harvester is the per-type facade used by every caller.
type Harvester struct {
	kind     models.PackageType
	baseURL  string
	index    *remoteindex.Cache
	assets   *assets.Cache
	ledger   ledger.Ledger
	local    *localmeta.Scanner
	inst     *installer.Installer
	notifier Notifier
	enabled  EnabledSource
	logger   *slog.Logger

	refreshMu sync.Mutex
}

// RefreshReport summarises one Refresh.
type RefreshReport struct {
	Type         models.PackageType `json:"type"`
	IndexUpdated bool               `json:"index_updated"`
	Entries      int                `json:"entries"`
	Assets       *assets.Report     `json:"assets,omitempty"`
	Updates      int                `json:"updates"`
	Errors       []string           `json:"errors,omitempty"`
}

// New builds a harvester and loads the cached index and the installed
// metadata. It performs no network I/O.
func New(opts Options) (*Harvester, error) {
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("harvester: invalid type %q", opts.Type)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With(slog.String("type", opts.Type.String()))

	store, err := storage.NewFS(filepath.Join(opts.CacheDir, opts.Type.String()))
	if err != nil {
		return nil, fmt.Errorf("harvester: cache dir: %w", err)
	}
	db, err := ledger.Open(filepath.Join(opts.CacheDir, opts.Type.String()+".ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("harvester: %w", err)
	}

	client := fetch.New(opts.HTTPClient, opts.IndexTimeout)
	resolver := locale.NewResolver(locale.Detect(opts.Locale))
	local := localmeta.New(opts.Type, opts.InstallDirs, logger)

	h := &Harvester{
		kind:    opts.Type,
		baseURL: opts.BaseURL,
		index: remoteindex.New(remoteindex.Options{
			Type:     opts.Type,
			BaseURL:  opts.BaseURL,
			Store:    store,
			Client:   client,
			Resolver: resolver,
			Logger:   logger,
			Now:      opts.Now,
		}),
		assets: assets.New(assets.Options{
			Type:      opts.Type,
			BaseURL:   opts.BaseURL,
			Store:     store,
			Ledger:    db,
			Client:    client.WithTimeout(opts.AssetTimeout),
			Workers:   opts.Workers,
			Protected: []string{remoteindex.IndexFile},
			Logger:    logger,
		}),
		ledger: db,
		local:  local,
		inst: installer.New(installer.Options{
			Type:        opts.Type,
			BaseURL:     opts.BaseURL,
			InstallDir:  local.InstallDir(),
			LocaleDir:   opts.LocaleDir,
			SettingsDir: opts.SettingsDir,
			Client:      client.WithTimeout(opts.ArchiveTimeout),
			Compiler:    opts.Compiler,
			Activity:    opts.Activity,
			Logger:      logger,
			Now:         opts.Now,
		}),
		notifier: opts.Notifier,
		enabled:  opts.Enabled,
		logger:   logger,
	}

	if err := h.index.Load(); err != nil {
		logger.Warn("harvester: cached index unusable", slog.String("error", err.Error()))
	}
	h.syncCatalog()
	h.local.Reload()
	return h, nil
}

// Type is the package type served by h.
func (h *Harvester) Type() models.PackageType { return h.kind }

// HasCache reports whether a usable index mirror is loaded.
func (h *Harvester) HasCache() bool { return h.index.HasCache() }

// Refresh updates the index mirror, reloads it, brings the previews up to
// date and rescans installed spices. Failures of one step are reported and
// the rest of the cycle runs with the data that is available.
func (h *Harvester) Refresh(ctx context.Context) (*RefreshReport, error) {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	report := &RefreshReport{Type: h.kind}
	var errs []error

	err := h.index.Refresh(ctx)
	metrics.IndexRefreshesTotal.WithLabelValues(h.kind.String(), metrics.Status(err)).Inc()
	if err != nil {
		h.logger.Warn("harvester: index refresh failed, keeping previous mirror", slog.String("error", err.Error()))
		errs = append(errs, err)
	} else {
		report.IndexUpdated = true
	}

	if err := h.index.Load(); err != nil {
		errs = append(errs, err)
	}
	h.syncCatalog()

	entries := h.index.Entries()
	report.Entries = len(entries)
	// An empty but valid index still collects orphans; no mirror at all
	// leaves the previews alone.
	if h.index.HasCache() {
		assetReport, err := h.assets.Refresh(ctx, entries)
		report.Assets = assetReport
		if err != nil {
			errs = append(errs, err)
		} else if ferr := assetReport.Err(); ferr != nil {
			errs = append(errs, ferr)
		}
	}

	h.local.Reload()
	report.Updates = len(h.GetUpdates())

	err = errors.Join(errs...)
	if err != nil {
		for _, e := range errs {
			report.Errors = append(report.Errors, e.Error())
		}
	}
	if h.notifier != nil {
		h.notifier.CacheRefreshed(report)
	}
	return report, err
}

// syncCatalog copies the loaded index into the search table.
func (h *Harvester) syncCatalog() {
	entries := h.index.Entries()
	list := make([]models.RemoteEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UUID < list[j].UUID })
	if err := h.ledger.ReplaceCatalog(list); err != nil {
		h.logger.Warn("harvester: updating search catalog failed", slog.String("error", err.Error()))
	}
}

// GetUpdates lists installed spices with a newer remote revision.
func (h *Harvester) GetUpdates() []models.UpdateRecord {
	recs := updates.Detect(h.kind, h.local.Entries(), h.index.Entries(), h.baseURL)
	metrics.UpdatesAvailable.WithLabelValues(h.kind.String()).Set(float64(len(recs)))
	return recs
}

// HasUpdate reports whether uuid is installed and outdated.
func (h *Harvester) HasUpdate(uuid string) bool {
	local, ok := h.local.Get(uuid)
	if !ok {
		return false
	}
	remote, ok := h.index.Get(uuid)
	return ok && updates.HasUpdate(local, remote)
}

// Install installs or upgrades uuid from the catalog.
func (h *Harvester) Install(ctx context.Context, uuid string) (*installer.Result, error) {
	entry, ok := h.index.Get(uuid)
	if !ok {
		return nil, apperr.NotFound("install", uuid)
	}
	prev := h.previous(uuid)
	return h.track(actionFor(prev), func() (*installer.Result, error) {
		return h.inst.Install(ctx, entry, prev)
	})
}

// InstallFromFolder installs an unpacked spice from dir.
func (h *Harvester) InstallFromFolder(ctx context.Context, dir string) (*installer.Result, error) {
	prev := h.previous(installer.FolderUUID(h.kind, dir))
	return h.track(actionFor(prev), func() (*installer.Result, error) {
		return h.inst.InstallFromFolder(ctx, dir, prev)
	})
}

// Uninstall removes an installed spice.
func (h *Harvester) Uninstall(ctx context.Context, uuid string) (*installer.Result, error) {
	prev, ok := h.local.Get(uuid)
	if !ok {
		return nil, apperr.NotFound("uninstall", uuid)
	}
	return h.track(installer.ActionUninstall, func() (*installer.Result, error) {
		return h.inst.Uninstall(ctx, prev)
	})
}

func (h *Harvester) previous(uuid string) *models.LocalEntry {
	if e, ok := h.local.Get(uuid); ok {
		return &e
	}
	return nil
}

func actionFor(prev *models.LocalEntry) string {
	if prev != nil {
		return installer.ActionUpgrade
	}
	return installer.ActionInstall
}

// track runs op, records metrics and, on success, rescans the install dirs
// and notifies. A failed operation leaves the installed map untouched.
func (h *Harvester) track(action string, op func() (*installer.Result, error)) (*installer.Result, error) {
	start := time.Now()
	res, err := op()
	metrics.OperationsTotal.WithLabelValues(h.kind.String(), action, metrics.Status(err)).Inc()
	metrics.OperationDuration.WithLabelValues(h.kind.String(), action).Observe(time.Since(start).Seconds())
	if err != nil {
		h.logger.Warn("harvester: "+action+" failed",
			slog.String("error_kind", string(apperr.KindOf(err))),
			slog.String("error", err.Error()))
		return nil, err
	}
	h.local.Reload()
	if h.notifier != nil {
		h.notifier.SpiceChanged(res)
	}
	return res, nil
}

// Index returns a copy of the loaded catalog.
func (h *Harvester) Index() map[string]models.RemoteEntry { return h.index.Entries() }

// Installed returns a copy of the installed map.
func (h *Harvester) Installed() map[string]models.LocalEntry { return h.local.Entries() }

// Search queries the catalog by name, description, author or uuid.
func (h *Harvester) Search(query string, limit int) ([]ledger.SearchResult, error) {
	return h.ledger.Search(query, limit)
}

// Enabled returns the set of enabled uuids. Without an EnabledSource the
// set is empty.
func (h *Harvester) Enabled(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	if h.enabled == nil {
		return out, nil
	}
	ids, err := h.enabled.EnabledUUIDs(ctx, h.kind)
	if err != nil {
		return out, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// AssetPath returns the cached preview of uuid.
func (h *Harvester) AssetPath(uuid string) (string, bool) {
	e, ok := h.index.Get(uuid)
	if !ok {
		return "", false
	}
	return h.assets.Path(e)
}

// CacheAge is the time since the index mirror was last written.
func (h *Harvester) CacheAge() (time.Duration, bool) { return h.index.Age() }

// ReloadLocal rescans the install directories.
func (h *Harvester) ReloadLocal() { h.local.Reload() }

// WatchDirs returns the install directories that exist.
func (h *Harvester) WatchDirs() []string {
	var out []string
	for _, d := range h.local.Dirs() {
		if info, err := os.Stat(d.Path); err == nil && info.IsDir() {
			out = append(out, d.Path)
		}
	}
	return out
}

// Close releases the ledger.
func (h *Harvester) Close() error { return h.ledger.Close() }

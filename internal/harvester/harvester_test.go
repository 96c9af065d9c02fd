package harvester

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/spices/internal/activity"
	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/localmeta"
	"github.com/starford/spices/internal/metadata"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/testutil"
)

type nopCompiler struct{}

func (nopCompiler) Compile(context.Context, string, string) error { return nil }

type notifier struct {
	mu        sync.Mutex
	changes   []*installer.Result
	refreshes []*RefreshReport
}

func (n *notifier) SpiceChanged(res *installer.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, res)
}

func (n *notifier) CacheRefreshed(r *RefreshReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshes = append(n.refreshes, r)
}

type enabledSet []string

func (e enabledSet) EnabledUUIDs(context.Context, models.PackageType) ([]string, error) {
	return e, nil
}

type env struct {
	root     string
	remote   *testutil.Remote
	notifier *notifier
	activity *activity.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:     root,
		remote:   testutil.NewRemote(t),
		notifier: &notifier{},
	}
	e.activity = activity.New(filepath.Join(root, "state", "harvester.log"), testutil.Logger())
	t.Cleanup(e.activity.Close)
	return e
}

func (e *env) installDir(kind models.PackageType) string {
	return filepath.Join(e.root, "data", kind.Plural())
}

func (e *env) harvester(t *testing.T, kind models.PackageType) *Harvester {
	t.Helper()
	h, err := New(Options{
		Type:        kind,
		BaseURL:     e.remote.URL(),
		CacheDir:    filepath.Join(e.root, "cache"),
		InstallDirs: []localmeta.Dir{{Path: e.installDir(kind)}},
		LocaleDir:   filepath.Join(e.root, "locale"),
		SettingsDir: filepath.Join(e.root, "configs"),
		HTTPClient:  e.remote.Client(),
		Workers:     4,
		Locale:      "en",
		Compiler:    nopCompiler{},
		Activity:    e.activity,
		Notifier:    e.notifier,
		Enabled:     enabledSet{"clock@x"},
		Logger:      testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// publish serves entries as the index of kind together with their archives
// and previews.
func (e *env) publish(t *testing.T, kind models.PackageType, entries ...models.RemoteEntry) {
	t.Helper()
	png := testutil.PNG(t)
	for _, en := range entries {
		if kind.IsTheme() {
			e.remote.SetFile(en.File, testutil.ThemeArchive(t, en.UUID))
		} else {
			e.remote.SetFile(en.File, testutil.Archive(t, en.UUID))
		}
		e.remote.SetFile(en.Thumb(kind), png)
	}
	e.remote.SetIndex(t, kind, entries...)
}

func (e *env) installLocal(t *testing.T, kind models.PackageType, uuid string, lastEdited int64) {
	t.Helper()
	p := localmeta.MetadataPath(kind, filepath.Join(e.installDir(kind), uuid))
	if err := metadata.SetLastEdited(p, uuid, lastEdited); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioFreshEnvironment(t *testing.T) {
	e := newEnv(t)
	entry := testutil.Entry(models.Applet, "clock@x", 1_700_000_000)
	e.publish(t, models.Applet, entry)

	h := e.harvester(t, models.Applet)
	if h.HasCache() {
		t.Fatal("HasCache = true in a fresh environment")
	}

	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "cache", "applet", "index.json")); err != nil {
		t.Fatalf("index.json: %v", err)
	}
	if len(h.Index()) < 1 {
		t.Fatal("index empty after refresh")
	}
	if got := h.GetUpdates(); len(got) != 0 {
		t.Fatalf("updates = %+v, want none", got)
	}

	if _, err := h.Install(context.Background(), "clock@x"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	meta, err := metadata.Read(filepath.Join(e.installDir(models.Applet), "clock@x", "metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastEdited != entry.LastEdited {
		t.Errorf("last-edited = %d, want %d", meta.LastEdited, entry.LastEdited)
	}
	if _, ok := h.Installed()["clock@x"]; !ok {
		t.Error("installed map not reloaded after install")
	}

	e.activity.Flush()
	data, _ := os.ReadFile(e.activity.Path())
	if !strings.Contains(string(data), "applet install clock@x none 2023.11.14") {
		t.Errorf("activity log = %q", data)
	}
}

func TestScenarioUpdateDetected(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 2000))
	e.installLocal(t, models.Applet, "clock@x", 1000)

	h := e.harvester(t, models.Applet)
	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	recs := h.GetUpdates()
	if len(recs) != 1 {
		t.Fatalf("updates = %+v, want one", recs)
	}
	r := recs[0]
	if r.UUID != "clock@x" || r.OldVersion != models.VersionString(1000) || r.NewVersion != models.VersionString(2000) {
		t.Errorf("record = %+v", r)
	}
	if !h.HasUpdate("clock@x") {
		t.Error("HasUpdate = false")
	}

	m := NewManager(h)
	if _, err := m.Upgrade(context.Background(), r); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if got := h.GetUpdates(); len(got) != 0 {
		t.Errorf("updates after upgrade = %+v", got)
	}
	if n := len(e.notifier.changes); n != 1 || e.notifier.changes[0].Action != installer.ActionUpgrade {
		t.Errorf("notifications = %+v", e.notifier.changes)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Desklet,
		testutil.Entry(models.Desklet, "notes@y", 1000),
		testutil.Entry(models.Desklet, "cpu@z", 1500))
	h := e.harvester(t, models.Desklet)
	indexPath := filepath.Join(e.root, "cache", "desklet", "index.json")

	var bodies [][]byte
	for i := 0; i < 2; i++ {
		if _, err := h.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh %d: %v", i, err)
		}
		data, err := os.ReadFile(indexPath)
		if err != nil {
			t.Fatal(err)
		}
		bodies = append(bodies, data)
		if got := h.GetUpdates(); len(got) != 0 {
			t.Errorf("refresh %d: updates = %+v", i, got)
		}
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		t.Error("index.json changed between identical refreshes")
	}
	if hits := e.remote.Hits("/files/desklets/notes@y.png"); hits != 1 {
		t.Errorf("preview fetched %d times, want 1", hits)
	}
}

func TestRefreshFailureKeepsPreviousState(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 1000))
	h := e.harvester(t, models.Applet)
	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.remote.Fail("/json/applets.json", http.StatusBadGateway)
	report, err := h.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("err = %v, want network failure", err)
	}
	if report.IndexUpdated || len(report.Errors) == 0 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := h.Index()["clock@x"]; !ok {
		t.Error("previous index lost after a failed refresh")
	}
	if len(e.notifier.refreshes) != 2 {
		t.Errorf("refresh notifications = %d", len(e.notifier.refreshes))
	}
}

func TestRefreshEmptyIndexRemovesPreviews(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 1000))
	h := e.harvester(t, models.Applet)
	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	preview, ok := h.AssetPath("clock@x")
	if !ok {
		t.Fatal("preview not cached after first refresh")
	}

	e.remote.SetIndex(t, models.Applet)
	report, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if report.Entries != 0 || report.Assets == nil {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(preview); !os.IsNotExist(err) {
		t.Errorf("preview of a delisted spice still on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "cache", "applet", "index.json")); err != nil {
		t.Errorf("index.json removed: %v", err)
	}
	if !h.HasCache() {
		t.Error("empty index should still count as a cache")
	}
}

func TestLoadsMirrorWithoutNetwork(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 1000))
	first := e.harvester(t, models.Applet)
	if _, err := first.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	e.remote.Fail("/json/applets.json", http.StatusInternalServerError)
	second := e.harvester(t, models.Applet)
	if !second.HasCache() || len(second.Index()) != 1 {
		t.Errorf("mirror not loaded at startup: HasCache=%v", second.HasCache())
	}
	if age, ok := second.CacheAge(); !ok || age > time.Minute {
		t.Errorf("CacheAge = %v, %v", age, ok)
	}
}

func TestInstallUnknownUUID(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 1000))
	h := e.harvester(t, models.Applet)
	_, _ = h.Refresh(context.Background())

	if _, err := h.Install(context.Background(), "ghost@x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := h.Uninstall(context.Background(), "ghost@x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("uninstall err = %v, want not found", err)
	}
}

func TestUninstall(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Theme, testutil.Entry(models.Theme, "Dark", 1000))
	h := e.harvester(t, models.Theme)
	_, _ = h.Refresh(context.Background())
	if _, err := h.Install(context.Background(), "Dark"); err != nil {
		t.Fatal(err)
	}

	res, err := h.Uninstall(context.Background(), "Dark")
	if err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if res.Action != installer.ActionUninstall {
		t.Errorf("action = %q", res.Action)
	}
	if _, ok := h.Installed()["Dark"]; ok {
		t.Error("uninstalled theme still listed")
	}
	if _, err := os.Stat(filepath.Join(e.installDir(models.Theme), "Dark")); !os.IsNotExist(err) {
		t.Error("theme dir not removed")
	}
}

func TestSearchEnabledAndAssets(t *testing.T) {
	e := newEnv(t)
	clock := testutil.Entry(models.Applet, "clock@x", 1000)
	clock.Name = "World Clock"
	e.publish(t, models.Applet, clock, testutil.Entry(models.Applet, "menu@y", 1000))
	h := e.harvester(t, models.Applet)
	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	hits, err := h.Search("World", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].UUID != "clock@x" {
		t.Errorf("hits = %+v", hits)
	}

	enabled, err := h.Enabled(context.Background())
	if err != nil || !enabled["clock@x"] {
		t.Errorf("Enabled = %v, %v", enabled, err)
	}
	if enabled["menu@y"] {
		t.Error("menu@y reported enabled")
	}

	p, ok := h.AssetPath("clock@x")
	if !ok || filepath.Base(p) != "clock@x.png" {
		t.Errorf("AssetPath = %q, %v", p, ok)
	}
	if _, ok := h.AssetPath("ghost@x"); ok {
		t.Error("AssetPath for unknown uuid")
	}
}

func TestManagerRefreshAndUpgradeAll(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 2000))
	e.publish(t, models.Desklet, testutil.Entry(models.Desklet, "notes@y", 3000))
	e.installLocal(t, models.Applet, "clock@x", 1000)
	e.installLocal(t, models.Desklet, "notes@y", 1000)

	m := NewManager(e.harvester(t, models.Applet), e.harvester(t, models.Desklet))
	reports, err := m.RefreshAllCaches(context.Background())
	if err != nil {
		t.Fatalf("RefreshAllCaches: %v", err)
	}
	if len(reports) != 2 || reports[0].Type != models.Applet || reports[1].Type != models.Desklet {
		t.Fatalf("reports = %+v", reports)
	}

	recs := m.GetUpdates()
	if len(recs) != 2 || recs[0].Type != models.Applet || recs[1].Type != models.Desklet {
		t.Fatalf("updates = %+v", recs)
	}
	results, err := m.UpgradeAll(context.Background())
	if err != nil {
		t.Fatalf("UpgradeAll: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d", len(results))
	}
	if got := m.GetUpdates(); len(got) != 0 {
		t.Errorf("updates after UpgradeAll = %+v", got)
	}
}

func TestManagerRefreshJoinsErrors(t *testing.T) {
	e := newEnv(t)
	e.publish(t, models.Applet, testutil.Entry(models.Applet, "clock@x", 1000))
	e.remote.Fail("/json/extensions.json", http.StatusNotFound)

	m := NewManager(e.harvester(t, models.Applet), e.harvester(t, models.Extension))
	reports, err := m.RefreshAllCaches(context.Background())
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "extension") {
		t.Errorf("error does not name the failing type: %v", err)
	}
	if reports[0].Entries != 1 {
		t.Errorf("applet refresh affected by extension failure: %+v", reports[0])
	}
}

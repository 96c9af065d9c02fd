package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/fetch"
	"github.com/starford/spices/internal/ledger"
	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/storage"
	"github.com/starford/spices/internal/testutil"
)

type env struct {
	remote *testutil.Remote
	store  *storage.FS
	db     *ledger.DB
	cache  *Cache
}

func newEnv(t *testing.T, workers int) *env {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(filepath.Join(root, "applet"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := ledger.Open(filepath.Join(root, "applet.ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	remote := testutil.NewRemote(t)
	c := New(Options{
		Type:      models.Applet,
		BaseURL:   remote.URL(),
		Store:     store,
		Ledger:    db,
		Client:    fetch.New(remote.Client(), 2*time.Second),
		Workers:   workers,
		Protected: []string{"index.json"},
		Logger:    testutil.Logger(),
	})
	return &env{remote: remote, store: store, db: db, cache: c}
}

// publish registers entries and their preview images on the fake server.
func (e *env) publish(t *testing.T, entries ...models.RemoteEntry) map[string]models.RemoteEntry {
	t.Helper()
	out := make(map[string]models.RemoteEntry, len(entries))
	for _, en := range entries {
		e.remote.SetFile(en.Icon, testutil.PNG(t))
		out[en.UUID] = en
	}
	return out
}

func TestRefreshDownloadsMissingOnce(t *testing.T) {
	e := newEnv(t, 4)
	entries := e.publish(t, testutil.Entry(models.Applet, "clock@x", 100), testutil.Entry(models.Applet, "menu@y", 200))

	r, err := e.cache.Refresh(context.Background(), entries)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.Downloaded != 2 || len(r.Failed) != 0 {
		t.Fatalf("report = %+v", r)
	}
	if !e.store.Exists("clock@x.png") || !e.store.Exists("menu@y.png") {
		t.Fatal("previews not written")
	}
	row, ok, _ := e.db.Asset("clock@x")
	if !ok || row.LastEdited != 100 || row.Checksum == "" {
		t.Errorf("ledger row = %+v, %v", row, ok)
	}

	r, _ = e.cache.Refresh(context.Background(), entries)
	if r.Downloaded != 0 {
		t.Errorf("second refresh downloaded %d", r.Downloaded)
	}
	if hits := e.remote.Hits("/files/applets/clock@x.png"); hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if p, ok := e.cache.Path(entries["clock@x"]); !ok || filepath.Base(p) != "clock@x.png" {
		t.Errorf("Path = %q, %v", p, ok)
	}
}

func TestPathNeedsLedgerRecord(t *testing.T) {
	e := newEnv(t, 2)
	entries := e.publish(t, testutil.Entry(models.Applet, "clock@x", 100))
	if err := e.store.Write("clock@x.png", testutil.PNG(t)); err != nil {
		t.Fatal(err)
	}
	if p, ok := e.cache.Path(entries["clock@x"]); ok {
		t.Errorf("unrecorded file served: %q", p)
	}

	if _, err := e.cache.Refresh(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.cache.Path(entries["clock@x"]); !ok {
		t.Error("recorded preview not served")
	}
}

func TestCorruptPreviewIsRefetched(t *testing.T) {
	e := newEnv(t, 2)
	entries := e.publish(t, testutil.Entry(models.Applet, "clock@x", 100))
	_, _ = e.cache.Refresh(context.Background(), entries)

	if err := e.store.Write("clock@x.png", []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	r, _ := e.cache.Refresh(context.Background(), entries)
	if r.Downloaded != 1 {
		t.Errorf("downloaded = %d, want 1", r.Downloaded)
	}
	data, _ := e.store.Read("clock@x.png")
	if err := Validate("clock@x.png", data); err != nil {
		t.Errorf("preview still invalid: %v", err)
	}
}

func TestChangedLastEditedIsRefetched(t *testing.T) {
	e := newEnv(t, 2)
	entries := e.publish(t, testutil.Entry(models.Applet, "clock@x", 100))
	_, _ = e.cache.Refresh(context.Background(), entries)

	bumped := entries["clock@x"]
	bumped.LastEdited = 300
	entries["clock@x"] = bumped
	r, _ := e.cache.Refresh(context.Background(), entries)
	if r.Downloaded != 1 {
		t.Errorf("downloaded = %d, want 1", r.Downloaded)
	}
	if hits := e.remote.Hits("/files/applets/clock@x.png"); hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	row, _, _ := e.db.Asset("clock@x")
	if row.LastEdited != 300 {
		t.Errorf("ledger last_edited = %d", row.LastEdited)
	}
}

func TestGarbageCollection(t *testing.T) {
	e := newEnv(t, 2)
	entries := e.publish(t, testutil.Entry(models.Applet, "clock@x", 100), testutil.Entry(models.Applet, "gone@z", 100))
	_ = e.store.Write("index.json", []byte("{}"))
	_, _ = e.cache.Refresh(context.Background(), entries)

	delete(entries, "gone@z")
	r, err := e.cache.Refresh(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if e.store.Exists("gone@z.png") {
		t.Error("orphaned preview not removed")
	}
	if !e.store.Exists("index.json") {
		t.Error("index.json must never be collected")
	}
	if !e.store.Exists("clock@x.png") {
		t.Error("listed preview removed")
	}
	if len(r.Removed) != 1 || r.Pruned != 1 {
		t.Errorf("report = %+v", r)
	}
	if _, ok, _ := e.db.Asset("gone@z"); ok {
		t.Error("ledger row not pruned")
	}
}

func TestFailuresDoNotAbortBatch(t *testing.T) {
	e := newEnv(t, 2)
	entries := e.publish(t,
		testutil.Entry(models.Applet, "a@x", 1),
		testutil.Entry(models.Applet, "b@x", 1),
		testutil.Entry(models.Applet, "c@x", 1),
	)
	e.remote.Fail("/files/applets/b@x.png", http.StatusNotFound)
	e.remote.SetFile("/files/applets/c@x.png", []byte("not an image"))

	r, err := e.cache.Refresh(context.Background(), entries)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.Downloaded != 1 || len(r.Failed) != 2 {
		t.Fatalf("report = %+v", r)
	}
	if !errors.Is(r.Err(), apperr.ErrNetwork) || !errors.Is(r.Err(), apperr.ErrParse) {
		t.Errorf("joined err = %v", r.Err())
	}
	if e.store.Exists("c@x.png") {
		t.Error("invalid image must not be written")
	}
	if _, ok, _ := e.db.Asset("b@x"); ok {
		t.Error("failed download recorded in ledger")
	}
}

func TestDownloadConcurrencyIsBounded(t *testing.T) {
	const workers = 3
	e := newEnv(t, workers)
	var list []models.RemoteEntry
	for i := 0; i < 25; i++ {
		list = append(list, testutil.Entry(models.Applet, fmt.Sprintf("s%02d@x", i), 1))
	}
	entries := e.publish(t, list...)
	e.remote.SetDelay(20 * time.Millisecond)

	r, err := e.cache.Refresh(context.Background(), entries)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.Downloaded != 25 {
		t.Errorf("downloaded = %d, want 25", r.Downloaded)
	}
	if got := e.remote.MaxInFlight(); got > workers {
		t.Errorf("max in flight = %d, want <= %d", got, workers)
	}
}

func TestThemesUseScreenshot(t *testing.T) {
	e := newEnv(t, 2)
	e.cache.kind = models.Theme
	en := testutil.Entry(models.Theme, "Dark", 5)
	e.remote.SetFile(en.Screenshot, testutil.PNG(t))

	r, err := e.cache.Refresh(context.Background(), map[string]models.RemoteEntry{"Dark": en})
	if err != nil || r.Downloaded != 1 {
		t.Fatalf("report = %+v, err = %v", r, err)
	}
	if !e.store.Exists("Dark.png") {
		t.Error("screenshot not cached")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("a.png", testutil.PNG(t)); err != nil {
		t.Errorf("png: %v", err)
	}
	if err := Validate("a.svg", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)); err != nil {
		t.Errorf("svg: %v", err)
	}
	if err := Validate("a.svg", []byte("hello")); err == nil {
		t.Error("bogus svg accepted")
	}
	if err := Validate("a.png", []byte("nope")); err == nil {
		t.Error("bogus png accepted")
	}
	if err := Validate("a.png", nil); err == nil {
		t.Error("empty accepted")
	}
}

package localmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/spices/internal/models"
	"github.com/starford/spices/internal/testutil"
)

func writeMeta(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadCreatesMissingUserDir(t *testing.T) {
	user := filepath.Join(t.TempDir(), "applets")
	system := filepath.Join(t.TempDir(), "missing-system")
	s := New(models.Applet, []Dir{{Path: user}, {Path: system, System: true}}, testutil.Logger())
	s.Reload()

	if info, err := os.Stat(user); err != nil || !info.IsDir() {
		t.Errorf("user dir not created: %v", err)
	}
	if _, err := os.Stat(system); !os.IsNotExist(err) {
		t.Error("system dir must not be created")
	}
	if len(s.Entries()) != 0 {
		t.Error("expected no entries")
	}
}

func TestReloadReadsAndSkipsBroken(t *testing.T) {
	user := t.TempDir()
	writeMeta(t, filepath.Join(user, "clock@x", "metadata.json"), `{"uuid":"clock@x","name":"Clock","last-edited":1000}`)
	writeMeta(t, filepath.Join(user, "broken@x", "metadata.json"), `{not json`)
	writeMeta(t, filepath.Join(user, ".clock@x.staging-1", "metadata.json"), `{"uuid":"tmp"}`)
	_ = os.MkdirAll(filepath.Join(user, "nometa@x"), 0o755)

	s := New(models.Applet, []Dir{{Path: user}}, testutil.Logger())
	s.Reload()

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want only clock@x", entries)
	}
	e := entries["clock@x"]
	if e.Name != "Clock" || e.LastEdited != 1000 || !e.HasLastEdited {
		t.Errorf("entry = %+v", e)
	}
	if e.Path != filepath.Join(user, "clock@x") {
		t.Errorf("path = %q", e.Path)
	}
	if !e.Writable {
		t.Error("user dir entry should be writable")
	}
}

func TestUserDirShadowsSystemDir(t *testing.T) {
	user, system := t.TempDir(), t.TempDir()
	writeMeta(t, filepath.Join(user, "a@x", "metadata.json"), `{"name":"User","last-edited":2}`)
	writeMeta(t, filepath.Join(system, "a@x", "metadata.json"), `{"name":"System","last-edited":1}`)
	writeMeta(t, filepath.Join(system, "b@x", "metadata.json"), `{"name":"Only System"}`)

	s := New(models.Desklet, []Dir{{Path: user}, {Path: system, System: true}}, testutil.Logger())
	s.Reload()

	a, _ := s.Get("a@x")
	if a.Name != "User" {
		t.Errorf("a@x name = %q, want User", a.Name)
	}
	if _, ok := s.Get("b@x"); !ok {
		t.Error("system entry missing")
	}
	if s.InstallDir() != user {
		t.Errorf("InstallDir = %q", s.InstallDir())
	}
}

func TestThemesNeedCinnamonDir(t *testing.T) {
	themes := t.TempDir()
	writeMeta(t, filepath.Join(themes, "Dark", "cinnamon", "metadata.json"), `{"name":"Dark","last-edited":5}`)
	_ = os.MkdirAll(filepath.Join(themes, "Plain", "cinnamon"), 0o755)
	_ = os.MkdirAll(filepath.Join(themes, "GtkOnly", "gtk-3.0"), 0o755)

	s := New(models.Theme, []Dir{{Path: themes}}, testutil.Logger())
	s.Reload()

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if e := entries["Dark"]; e.LastEdited != 5 {
		t.Errorf("Dark = %+v", e)
	}
	if e := entries["Plain"]; e.HasLastEdited {
		t.Errorf("Plain should have no last-edited: %+v", e)
	}
}

func TestReloadReplacesWholesale(t *testing.T) {
	user := t.TempDir()
	writeMeta(t, filepath.Join(user, "gone@x", "metadata.json"), `{}`)
	s := New(models.Extension, []Dir{{Path: user}}, testutil.Logger())
	s.Reload()
	if _, ok := s.Get("gone@x"); !ok {
		t.Fatal("precondition: gone@x loaded")
	}
	_ = os.RemoveAll(filepath.Join(user, "gone@x"))
	s.Reload()
	if _, ok := s.Get("gone@x"); ok {
		t.Error("removed spice still listed")
	}
}

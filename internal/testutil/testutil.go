// Package testutil provides shared test helpers: a fake spices server,
// fixture archives and images.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/starford/spices/internal/models"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// PNG returns a valid 2x2 PNG image.
func PNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// BuildZip packs files (slash-separated name -> content) into a zip archive.
// Names ending in "/" become directory entries.
func BuildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Entry builds a catalog entry with the file layout the fake server uses.
func Entry(kind models.PackageType, uuid string, lastEdited int64) models.RemoteEntry {
	e := models.RemoteEntry{
		UUID:              uuid,
		Name:              "Spice " + uuid,
		Description:       "Fixture " + uuid,
		LastEdited:        lastEdited,
		LastCommit:        fmt.Sprintf("c%d", lastEdited),
		LastCommitSubject: "update " + uuid,
		SpicesID:          models.SpicesID(fmt.Sprint(len(uuid))),
		File:              fmt.Sprintf("/files/%s/%s.zip", kind.Plural(), uuid),
		FileSize:          2048,
	}
	thumb := fmt.Sprintf("/files/%s/%s.png", kind.Plural(), uuid)
	if kind.IsTheme() {
		e.Screenshot = thumb
	} else {
		e.Icon = thumb
	}
	return e
}

// Archive returns a zip for a non-theme spice with metadata and one translation.
func Archive(t *testing.T, uuid string) []byte {
	t.Helper()
	return BuildZip(t, map[string]string{
		uuid + "/metadata.json": fmt.Sprintf(`{"uuid":%q,"name":"Spice","max-instances":1}`, uuid),
		uuid + "/applet.js":     "function main() {}",
		uuid + "/po/de.po":      "msgid \"\"\nmsgstr \"\"\n",
	})
}

// ThemeArchive returns a zip for a theme with a cinnamon/ subdirectory.
func ThemeArchive(t *testing.T, uuid string) []byte {
	t.Helper()
	return BuildZip(t, map[string]string{
		uuid + "/cinnamon/cinnamon.css":  "stage {}",
		uuid + "/cinnamon/metadata.json": fmt.Sprintf(`{"uuid":%q,"name":"Theme"}`, uuid),
		uuid + "/gtk-3.0/gtk.css":        "* {}",
	})
}

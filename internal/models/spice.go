// Package models defines the domain types shared by the harvester packages.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// PackageType is the kind of a spice.
type PackageType string

const (
	Applet    PackageType = "applet"
	Desklet   PackageType = "desklet"
	Extension PackageType = "extension"
	Theme     PackageType = "theme"
)

// AllTypes lists every package type in display order.
var AllTypes = []PackageType{Applet, Desklet, Extension, Theme}

// ParsePackageType accepts the singular or plural form ("applet", "applets").
func ParsePackageType(s string) (PackageType, error) {
	t := PackageType(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !t.Valid() {
		return "", fmt.Errorf("unknown package type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known types.
func (t PackageType) Valid() bool {
	switch t {
	case Applet, Desklet, Extension, Theme:
		return true
	}
	return false
}

// Plural is the form used in remote URLs and install directory names.
func (t PackageType) Plural() string { return string(t) + "s" }

// IsTheme reports whether t is the theme type.
func (t PackageType) IsTheme() bool { return t == Theme }

func (t PackageType) String() string { return string(t) }

// SpicesID is the numeric catalog id. The server publishes it either as a
// number or as a string.
type SpicesID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *SpicesID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SpicesID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = SpicesID(n.String())
	return nil
}

// RemoteEntry is one catalog entry of the remote index.
type RemoteEntry struct {
	UUID              string            `json:"uuid"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Translations      map[string]string `json:"translations,omitempty"`
	LastEdited        int64             `json:"last_edited"`
	LastCommit        string            `json:"last_commit,omitempty"`
	LastCommitSubject string            `json:"last_commit_subject,omitempty"`
	SpicesID          SpicesID          `json:"spices-id,omitempty"`
	File              string            `json:"file"`
	FileSize          int64             `json:"file_size,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Screenshot        string            `json:"screenshot,omitempty"`
	AuthorUser        string            `json:"author_user,omitempty"`
	Score             int               `json:"score,omitempty"`
}

// Thumb returns the relative path of the preview image: screenshots for
// themes, icons for everything else.
func (e RemoteEntry) Thumb(t PackageType) string {
	if t.IsTheme() {
		return e.Screenshot
	}
	return e.Icon
}

// ThumbName is the file name the preview is cached under.
func (e RemoteEntry) ThumbName(t PackageType) string {
	thumb := e.Thumb(t)
	if thumb == "" {
		return ""
	}
	return path.Base(thumb)
}

// LocalEntry is an installed spice as described by its metadata.json.
type LocalEntry struct {
	UUID          string         `json:"uuid"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	LastEdited    int64          `json:"last-edited,omitempty"`
	HasLastEdited bool           `json:"-"`
	Path          string         `json:"path"`
	Writable      bool           `json:"writable"`
	Raw           map[string]any `json:"-"`
}

// UpdateRecord describes an installed spice with a newer remote revision.
type UpdateRecord struct {
	UUID          string      `json:"uuid"`
	Type          PackageType `json:"type"`
	Name          string      `json:"name"`
	OldVersion    string      `json:"old_version"`
	NewVersion    string      `json:"new_version"`
	OldLastEdited int64       `json:"old_last_edited"`
	NewLastEdited int64       `json:"new_last_edited"`
	CommitID      string      `json:"commit_id,omitempty"`
	CommitMessage string      `json:"commit_message,omitempty"`
	Link          string      `json:"link"`
	Size          int64       `json:"size"`
	SizeHuman     string      `json:"size_human"`
}

// CachedFile is a file found in a cache folder.
type CachedFile struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// VersionString renders an epoch timestamp the way versions are displayed.
func VersionString(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006.01.02")
}

package api

import (
	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/ledger"
	"github.com/starford/spices/internal/models"
)

// UpgradeRequest names one spice to upgrade.
type UpgradeRequest struct {
	Type string `json:"type" example:"applet" validate:"required"`
	UUID string `json:"uuid" example:"clock@cinnamon.org" validate:"required"`
}

// InstallFolderRequest installs an unpacked spice from a local directory.
type InstallFolderRequest struct {
	Path string `json:"path" example:"/home/me/src/clock@me" validate:"required"`
}

// SpiceItem is one catalog entry with its local state.
type SpiceItem struct {
	models.RemoteEntry
	Installed bool   `json:"installed"`
	Enabled   bool   `json:"enabled"`
	HasUpdate bool   `json:"has_update"`
	Version   string `json:"version"`
}

// SpiceListResponse wraps a catalog listing.
type SpiceListResponse struct {
	Type   models.PackageType `json:"type"`
	Spices []SpiceItem        `json:"spices" validate:"required"`
}

// InstalledResponse wraps the installed spices of a type.
type InstalledResponse struct {
	Type      models.PackageType  `json:"type"`
	Installed []models.LocalEntry `json:"installed" validate:"required"`
}

// UpdatesResponse wraps pending updates.
type UpdatesResponse struct {
	Updates []models.UpdateRecord `json:"updates" validate:"required"`
}

// SearchResponse wraps catalog search hits.
type SearchResponse struct {
	Results []ledger.SearchResult `json:"results" validate:"required"`
}

// RefreshResponse wraps the per-type refresh reports.
type RefreshResponse struct {
	Reports []*harvester.RefreshReport `json:"reports"`
	OK      bool                       `json:"ok"`
}

// UpgradeAllResponse lists completed upgrades and failures.
type UpgradeAllResponse struct {
	Results []*installer.Result `json:"results"`
	Error   string              `json:"error,omitempty"`
}

// TypeStatus summarises the cache of one type.
type TypeStatus struct {
	Type       models.PackageType `json:"type"`
	HasCache   bool               `json:"has_cache"`
	Entries    int                `json:"entries"`
	Installed  int                `json:"installed"`
	Updates    int                `json:"updates"`
	AgeSeconds int64              `json:"age_seconds,omitempty"`
	Refreshed  string             `json:"refreshed,omitempty" example:"3 hours ago"`
}

// StatusResponse wraps the status of every type.
type StatusResponse struct {
	Types []TypeStatus `json:"types"`
}

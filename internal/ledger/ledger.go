package ledger

import "github.com/starford/spices/internal/models"

// Ledger is what the asset cache and the harvester need from the database.
type Ledger interface {
	Asset(uuid string) (AssetRow, bool, error)
	UpsertAsset(r AssetRow) error
	AllAssets() (map[string]AssetRow, error)
	PruneAssets(keep map[string]struct{}) (int, error)
	ReplaceCatalog(entries []models.RemoteEntry) error
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

var _ Ledger = (*DB)(nil)

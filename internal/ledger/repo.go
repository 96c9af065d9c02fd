package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/spices/internal/models"
)

// AssetRow records the preview image cached for a spice.
type AssetRow struct {
	UUID       string
	File       string
	URL        string
	LastEdited int64
	Checksum   string
	FetchedAt  time.Time
}

// SearchResult is one catalog hit.
type SearchResult struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Asset returns the row for uuid; ok is false when none exists.
func (db *DB) Asset(uuid string) (AssetRow, bool, error) {
	var r AssetRow
	err := db.conn.QueryRow(`
		SELECT uuid, file, url, last_edited, checksum, fetched_at
		FROM assets WHERE uuid = ?`, uuid).
		Scan(&r.UUID, &r.File, &r.URL, &r.LastEdited, &r.Checksum, &r.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AssetRow{}, false, nil
	}
	if err != nil {
		return AssetRow{}, false, fmt.Errorf("ledger: asset: %w", err)
	}
	return r, true, nil
}

// UpsertAsset inserts or replaces the row for r.UUID.
func (db *DB) UpsertAsset(r AssetRow) error {
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO assets (uuid, file, url, last_edited, checksum, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			file        = excluded.file,
			url         = excluded.url,
			last_edited = excluded.last_edited,
			checksum    = excluded.checksum,
			fetched_at  = excluded.fetched_at
	`, r.UUID, r.File, r.URL, r.LastEdited, r.Checksum, r.FetchedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: upsert asset: %w", err)
	}
	return nil
}

// AllAssets returns every row keyed by uuid.
func (db *DB) AllAssets() (map[string]AssetRow, error) {
	rows, err := db.conn.Query(`SELECT uuid, file, url, last_edited, checksum, fetched_at FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("ledger: all assets: %w", err)
	}
	defer rows.Close()
	out := make(map[string]AssetRow)
	for rows.Next() {
		var r AssetRow
		if err := rows.Scan(&r.UUID, &r.File, &r.URL, &r.LastEdited, &r.Checksum, &r.FetchedAt); err != nil {
			return nil, err
		}
		out[r.UUID] = r
	}
	return out, rows.Err()
}

// PruneAssets deletes every row whose uuid is not in keep.
func (db *DB) PruneAssets(keep map[string]struct{}) (int, error) {
	all, err := db.AllAssets()
	if err != nil {
		return 0, err
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	n := 0
	for uuid := range all {
		if _, ok := keep[uuid]; ok {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM assets WHERE uuid = ?`, uuid); err != nil {
			return 0, fmt.Errorf("ledger: prune asset: %w", err)
		}
		n++
	}
	return n, tx.Commit()
}

// ReplaceCatalog swaps the searchable catalog for entries.
func (db *DB) ReplaceCatalog(entries []models.RemoteEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM catalog`); err != nil {
		return fmt.Errorf("ledger: clear catalog: %w", err)
	}
	if err := ftsClear(tx); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO catalog (uuid, name, description, author, last_edited) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger: prepare catalog insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.Exec(e.UUID, e.Name, e.Description, e.AuthorUser, e.LastEdited); err != nil {
			return fmt.Errorf("ledger: insert catalog: %w", err)
		}
		if err := ftsInsert(tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

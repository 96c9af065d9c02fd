//go:build sqlite_fts5

package ledger

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/spices/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS catalog_fts USING fts5(
			uuid UNINDEXED,
			name,
			description,
			author,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsClear(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM catalog_fts`); err != nil {
		return fmt.Errorf("ledger: clear fts: %w", err)
	}
	return nil
}

func ftsInsert(tx *sql.Tx, e models.RemoteEntry) error {
	_, err := tx.Exec(`INSERT INTO catalog_fts (uuid, name, description, author) VALUES (?, ?, ?, ?)`,
		e.UUID, e.Name, e.Description, e.AuthorUser)
	if err != nil {
		return fmt.Errorf("ledger: insert fts: %w", err)
	}
	return nil
}

// phrase quotes user input so FTS5 operators in it are taken literally.
func phrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// Search performs an FTS5 search over name, description and author.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT uuid,
		       name,
		       snippet(catalog_fts, 2, '<b>', '</b>', '...', 32)
		FROM catalog_fts
		WHERE catalog_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, phrase(query), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.UUID, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

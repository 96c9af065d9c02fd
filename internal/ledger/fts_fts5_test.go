//go:build sqlite_fts5

package ledger

import (
	"testing"

	"github.com/starford/spices/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM catalog_fts`).Scan(&count); err != nil {
		t.Fatalf("catalog_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceCatalog([]models.RemoteEntry{
		{UUID: "weather@x", Name: "Weather", Description: "Forecast from several powerful providers"},
	})
	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].UUID != "weather@x" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_OperatorsAreLiteral(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceCatalog([]models.RemoteEntry{{UUID: "a@x", Name: "A", Description: "plain"}})
	if _, err := db.Search(`AND "(`, 10); err != nil {
		t.Errorf("query with operators failed: %v", err)
	}
}

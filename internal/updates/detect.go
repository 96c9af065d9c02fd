// Package updates compares installed spices with the remote index.
package updates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/starford/spices/internal/models"
)

// HasUpdate reports whether remote is strictly newer than local. Spices
// without a recorded last-edited were not installed from the catalog and
// never have updates.
func HasUpdate(local models.LocalEntry, remote models.RemoteEntry) bool {
	return local.HasLastEdited && local.LastEdited < remote.LastEdited
}

// Detect returns one record per installed spice with a newer remote
// revision, sorted by uuid.
func Detect(kind models.PackageType, local map[string]models.LocalEntry, remote map[string]models.RemoteEntry, baseURL string) []models.UpdateRecord {
	base := strings.TrimRight(baseURL, "/")
	var out []models.UpdateRecord
	for uuid, l := range local {
		r, ok := remote[uuid]
		if !ok || !HasUpdate(l, r) {
			continue
		}
		name := r.Name
		if name == "" {
			name = l.Name
		}
		out = append(out, models.UpdateRecord{
			UUID:          uuid,
			Type:          kind,
			Name:          name,
			OldVersion:    models.VersionString(l.LastEdited),
			NewVersion:    models.VersionString(r.LastEdited),
			OldLastEdited: l.LastEdited,
			NewLastEdited: r.LastEdited,
			CommitID:      r.LastCommit,
			CommitMessage: r.LastCommitSubject,
			Link:          Link(base, kind, r),
			Size:          r.FileSize,
			SizeHuman:     humanize.Bytes(uint64(max(r.FileSize, 0))),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Link is the catalog page of a spice.
func Link(baseURL string, kind models.PackageType, r models.RemoteEntry) string {
	if r.SpicesID == "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), kind.Plural())
	}
	return fmt.Sprintf("%s/%s/view/%s", strings.TrimRight(baseURL, "/"), kind.Plural(), r.SpicesID)
}

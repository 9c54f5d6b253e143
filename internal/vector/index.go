package vector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
)

var (
	ErrIndexCorruption   = errors.New("index corruption")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry is one chunk's vector as held by an index.
type Entry struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
}

// Match is a query hit. Score is cosine similarity in [-1, 1].
type Match struct {
	ChunkID    string
	DocumentID string
	Score      float32
}

// Index is the nearest-neighbour structure of a single tenant.
//
// Query returns at most k matches ordered by descending score, ties broken by
// ascending chunk id. k <= 0 returns no matches.
type Index interface {
	Add(ctx context.Context, entries ...Entry) error
	RemoveByDocument(ctx context.Context, documentID string) (int, error)
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Len(ctx context.Context) (int, error)
}

// Resetter is implemented by indexes whose storage outlives the Index value,
// so a rebuild has to clear it instead of starting from a fresh value.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Snapshotter is implemented by indexes that can dump their contents.
type Snapshotter interface {
	Entries() []Entry
}

// Factory creates the index for a tenant.
type Factory func(tenantID string) (Index, error)

// SortMatches orders matches by descending score, then ascending chunk id.
func SortMatches(m []Match) {
	slices.SortFunc(m, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ChunkID, b.ChunkID)
		}
	})
}

// Digest fingerprints a set of chunk ids. It equals
// md5(string_agg(id::text, ',' ORDER BY id)) in Postgres, and is empty for
// an empty set.
func Digest(chunkIDs []string) string {
	if len(chunkIDs) == 0 {
		return ""
	}
	ids := slices.Clone(chunkIDs)
	slices.Sort(ids)
	sum := md5.Sum([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}

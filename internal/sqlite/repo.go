// Package sqlite is the persistence layer backing the pipeline.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/robingodinho/energy-intel/internal/intel"
)

// Bind chunking limit: sqlite tops out at 999 variables per statement.
const maxBinds = 500

// Ensure Repo covers both persistence surfaces.
var (
	_ intel.ArticleRepo = (*Repo)(nil)
	_ intel.JobRunRepo  = (*Repo)(nil)
)

// Repo implements the article and job run stores over sqlite.
type Repo struct {
	db *sqlx.DB
}

// New creates a Repo over an already-migrated database handle.
func New(dbx *sqlx.DB) *Repo {
	return &Repo{db: dbx}
}

func chunk[T any](in []T, size int) [][]T {
	var out [][]T
	for len(in) > size {
		out = append(out, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}

	return out
}

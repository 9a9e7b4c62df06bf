// Package collections deduplicates user collections that share a name, owner
// and icon.
package collections

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// Result summarises one merge pass.
type Result struct {
	Groups     int `json:"groups"`
	Removed    int `json:"removed"`
	MovedBooks int `json:"moved_books"`
}

type Merger interface {
	MergeDuplicates(ctx context.Context) (Result, error)
}

type PostgresMerger struct {
	db *sql.DB
}

func NewPostgresMerger(db *sql.DB) *PostgresMerger {
	return &PostgresMerger{db: db}
}

// MergeDuplicates folds every duplicate group into its oldest collection.
// Each group commits on its own, so a failure leaves earlier groups merged.
func (m *PostgresMerger) MergeDuplicates(ctx context.Context) (Result, error) {
	groups, err := m.duplicateGroups(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, ids := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		moved, err := m.mergeGroup(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("merge collections %v: %w", ids, err)
		}
		res.Groups++
		res.Removed += len(ids) - 1
		res.MovedBooks += moved
		slog.InfoContext(ctx, "merged duplicate collections", "master", ids[0], "removed", len(ids)-1, "moved_books", moved)
	}
	return res, nil
}

func (m *PostgresMerger) duplicateGroups(ctx context.Context) ([][]int64, error) {
	query := `SELECT array_agg(id ORDER BY id) FROM collections
		GROUP BY name, owner, icon
		HAVING COUNT(*) > 1`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find duplicate collections: %w", err)
	}
	defer rows.Close()

	var groups [][]int64
	for rows.Next() {
		var ids pq.Int64Array
		if err := rows.Scan(&ids); err != nil {
			return nil, err
		}
		if len(ids) > 1 {
			groups = append(groups, ids)
		}
	}
	return groups, rows.Err()
}

func (m *PostgresMerger) mergeGroup(ctx context.Context, ids []int64) (int, error) {
	master, others := ids[0], ids[1:]

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO collection_books (collection_id, isbn, added_at)
		SELECT $1, isbn, MIN(added_at) FROM collection_books
		WHERE collection_id = ANY($2)
		GROUP BY isbn
		ON CONFLICT (collection_id, isbn) DO NOTHING`, master, pq.Array(others))
	if err != nil {
		return 0, err
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	// collection_books rows of the removed collections cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ANY($1)`, pq.Array(others)); err != nil {
		return 0, err
	}
	return int(moved), tx.Commit()
}

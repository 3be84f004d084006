package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const fragmentTable = "fragments"

// insertLockKey serialises writers so the dimension check and the insert
// see the same table state across concurrent batches and processes.
const insertLockKey int64 = 0x646f637161 // "docqa"

// PGIndex stores entries in postgres with the pgvector extension. Each
// batch is written in one transaction.
type PGIndex struct {
	db     *sql.DB
	metric Metric
}

func NewPG(db *sql.DB, metric Metric) *PGIndex {
	return &PGIndex{db: db, metric: metric}
}

func (p *PGIndex) Insert(ctx context.Context, entries []model.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	batchDim, err := validateBatch(entries)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", insertLockKey); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	var dim int
	err = tx.QueryRowContext(ctx, "SELECT vector_dims(embedding) FROM "+fragmentTable+" LIMIT 1").Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("read index dimension: %w", err)
	case dim != batchDim:
		return fmt.Errorf("index dimension %d, got %d: %w", dim, batchDim, appErr.ErrDimensionMismatch)
	}

	rows := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]interface{}{
			"source_id":   e.Fragment.SourceID,
			"chunk_index": e.Fragment.ChunkIndex,
			"content":     e.Fragment.Content,
			"embedding":   pgvector.NewVector(e.Vector),
		})
	}
	sqlStr, args, err := builder.BuildInsert(fragmentTable, rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err = tx.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return fmt.Errorf("fragment already indexed: %w", appErr.ErrConflict)
		}
		return fmt.Errorf("insert fragments: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (p *PGIndex) Search(ctx context.Context, vector []float32, topK int) ([]model.Hit, error) {
	if topK <= 0 {
		return []model.Hit{}, nil
	}
	distance := "embedding <=> $1"
	scoreExpr := "1 - (embedding <=> $1)"
	if p.metric == MetricInnerProduct {
		distance = "embedding <#> $1"
		scoreExpr = "-(embedding <#> $1)"
	}
	query := fmt.Sprintf(
		"SELECT source_id, chunk_index, content, %s AS score FROM %s ORDER BY %s, id LIMIT $2",
		scoreExpr, fragmentTable, distance,
	)
	rows, err := p.db.QueryContext(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		if strings.Contains(err.Error(), "different vector dimensions") {
			return nil, fmt.Errorf("%v: %w", err, appErr.ErrDimensionMismatch)
		}
		return nil, fmt.Errorf("search fragments: %w", err)
	}
	defer rows.Close()

	hits := make([]model.Hit, 0, topK)
	for rows.Next() {
		var hit model.Hit
		if err := rows.Scan(&hit.Fragment.SourceID, &hit.Fragment.ChunkIndex, &hit.Fragment.Content, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

func (p *PGIndex) HasSource(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, "SELECT 1 FROM "+fragmentTable+" WHERE source_id = $1 LIMIT 1", sourceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *PGIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+fragmentTable).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

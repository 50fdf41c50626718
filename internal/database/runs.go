package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/wer"
)

// RunStore persists benchmark runs in Postgres. Implements benchmark.Store.
type RunStore struct {
	db *DB
}

// Runs returns the Postgres-backed benchmark run store.
func (db *DB) Runs() *RunStore {
	return &RunStore{db: db}
}

// Save upserts the run and all of its results in one transaction.
func (s *RunStore) Save(ctx context.Context, run *benchmark.Run) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO benchmark_runs (
			id, created_at, finished_at, language, reference, reference_source,
			audio_key, audio_name, status, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			finished_at      = EXCLUDED.finished_at,
			language         = EXCLUDED.language,
			reference        = EXCLUDED.reference,
			reference_source = EXCLUDED.reference_source,
			audio_key        = EXCLUDED.audio_key,
			audio_name       = EXCLUDED.audio_name,
			status           = EXCLUDED.status,
			error            = EXCLUDED.error
	`,
		run.ID, run.CreatedAt, run.FinishedAt, run.Language, run.Reference, run.ReferenceSource,
		pqString(run.AudioKey), pqString(run.AudioName), run.Status, pqString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	batch := &pgx.Batch{}
	for i, r := range run.Results {
		stats, alignment, err := encodeScores(r)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO benchmark_results (
				run_id, position, provider, model, status, transcript,
				duration_ms, error, stats, wer, cer, alignment
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (run_id, provider) DO UPDATE SET
				position    = EXCLUDED.position,
				model       = EXCLUDED.model,
				status      = EXCLUDED.status,
				transcript  = EXCLUDED.transcript,
				duration_ms = EXCLUDED.duration_ms,
				error       = EXCLUDED.error,
				stats       = EXCLUDED.stats,
				wer         = EXCLUDED.wer,
				cer         = EXCLUDED.cer,
				alignment   = EXCLUDED.alignment
		`,
			run.ID, i, r.Provider, r.Model, r.Status, pqString(r.Transcript),
			r.DurationMs, pqString(r.Error), stats, r.WER, r.CER, alignment,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert results: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get returns a run with its results, or benchmark.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, id string) (*benchmark.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, benchmark.ErrNotFound
	}
	row := s.db.Pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM benchmark_runs
		WHERE id = $1
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, benchmark.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if err := s.loadResults(ctx, map[string]*benchmark.Run{run.ID: run}); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first, starting after offset
// runs. limit <= 0 returns all remaining runs.
func (s *RunStore) List(ctx context.Context, limit, offset int) ([]*benchmark.Run, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM benchmark_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, lim, int64(offset))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*benchmark.Run
	byID := make(map[string]*benchmark.Run)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
		byID[run.ID] = run
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.loadResults(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RunStore) loadResults(ctx context.Context, runs map[string]*benchmark.Run) error {
	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT run_id::text, provider, model, status, COALESCE(transcript, ''),
			duration_ms, COALESCE(error, ''), stats, wer, cer, alignment
		FROM benchmark_results
		WHERE run_id = ANY($1::uuid[])
		ORDER BY run_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID            string
			r                benchmark.Result
			stats, alignment []byte
		)
		if err := rows.Scan(
			&runID, &r.Provider, &r.Model, &r.Status, &r.Transcript,
			&r.DurationMs, &r.Error, &stats, &r.WER, &r.CER, &alignment,
		); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		if err := decodeScores(&r, stats, alignment); err != nil {
			return err
		}
		if run, ok := runs[runID]; ok {
			run.Results = append(run.Results, r)
		}
	}
	return rows.Err()
}

const runColumns = `id::text, created_at, finished_at, language, reference, reference_source,
	COALESCE(audio_key, ''), COALESCE(audio_name, ''), status, COALESCE(error, '')`

func scanRun(row pgx.Row) (*benchmark.Run, error) {
	var (
		run        benchmark.Run
		finishedAt *time.Time
	)
	err := row.Scan(
		&run.ID, &run.CreatedAt, &finishedAt, &run.Language, &run.Reference, &run.ReferenceSource,
		&run.AudioKey, &run.AudioName, &run.Status, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.FinishedAt = finishedAt
	run.Results = []benchmark.Result{}
	return &run, nil
}

// encodeScores marshals the jsonb columns of a result. Unscored results
// store NULL for both.
func encodeScores(r benchmark.Result) (stats, alignment any, err error) {
	if r.Stats != nil {
		b, err := json.Marshal(r.Stats)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal stats: %w", err)
		}
		stats = b
	}
	if r.Alignment != nil {
		b, err := json.Marshal(r.Alignment)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal alignment: %w", err)
		}
		alignment = b
	}
	return stats, alignment, nil
}

func decodeScores(r *benchmark.Result, stats, alignment []byte) error {
	if len(stats) > 0 && string(stats) != "null" {
		var st wer.Stats
		if err := json.Unmarshal(stats, &st); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}
		r.Stats = &st
	}
	if len(alignment) > 0 && string(alignment) != "null" {
		if err := json.Unmarshal(alignment, &r.Alignment); err != nil {
			return fmt.Errorf("decode alignment: %w", err)
		}
	}
	return nil
}

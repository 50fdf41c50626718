// Command dbcheck prints benchmark database statistics and cleans up runs
// left unfinished by a crash.
//
//	dbcheck                     table counts
//	dbcheck providers           per-provider leaderboard across all runs
//	dbcheck stale [apply]       mark runs stuck in pending/running as done
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// staleAfter is how long a run may stay unfinished before it is considered
// abandoned.
const staleAfter = time.Hour

func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "providers" {
		providerLeaderboard(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "stale" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		closeStaleRuns(ctx, pool, dryRun)
		return
	}

	// Default: table counts
	tables := []string{"benchmark_runs", "benchmark_results"}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}

	fmt.Println()
	fmt.Println("── Runs by Status ──")
	rows, err := pool.Query(ctx, `SELECT status, count(*) FROM benchmark_runs GROUP BY status ORDER BY status`)
	if err != nil {
		fmt.Println("  query failed:", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		rows.Scan(&status, &count)
		fmt.Printf("  %-10s %d\n", status, count)
	}
}

func providerLeaderboard(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `
		SELECT provider,
			count(*) FILTER (WHERE status = 'done')  AS scored,
			count(*) FILTER (WHERE status = 'error') AS failed,
			COALESCE(avg(wer) FILTER (WHERE status = 'done'), 0),
			COALESCE(avg(cer) FILTER (WHERE status = 'done'), 0),
			COALESCE(avg(duration_ms) FILTER (WHERE status = 'done'), 0)
		FROM benchmark_results
		GROUP BY provider
		ORDER BY 4, 6
	`)
	if err != nil {
		fmt.Println("query failed:", err)
		return
	}
	defer rows.Close()

	fmt.Printf("%-14s %7s %7s %8s %8s %10s\n", "Provider", "Scored", "Failed", "Avg WER", "Avg CER", "Avg ms")
	fmt.Println("──────────────────────────────────────────────────────────────")
	for rows.Next() {
		var (
			provider       string
			scored, failed int64
			avgWER, avgCER float64
			avgMs          float64
		)
		if err := rows.Scan(&provider, &scored, &failed, &avgWER, &avgCER, &avgMs); err != nil {
			fmt.Println("scan failed:", err)
			return
		}
		fmt.Printf("%-14s %7d %7d %7.2f%% %7.2f%% %10.0f\n", provider, scored, failed, avgWER*100, avgCER*100, avgMs)
	}
}

func closeStaleRuns(ctx context.Context, pool *pgxpool.Pool, dryRun bool) {
	cutoff := time.Now().Add(-staleAfter)

	var count int64
	pool.QueryRow(ctx, `
		SELECT count(*) FROM benchmark_runs
		WHERE status IN ('pending', 'running') AND created_at < $1
	`, cutoff).Scan(&count)
	fmt.Printf("Found %d runs unfinished for more than %s\n", count, staleAfter)

	if dryRun || count == 0 {
		if count > 0 {
			fmt.Println("Dry run. Pass 'apply' to close them.")
		}
		return
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Println("begin failed:", err)
		return
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE benchmark_results SET status = 'error', error = 'abandoned'
		WHERE status IN ('pending', 'running')
		  AND run_id IN (
			SELECT id FROM benchmark_runs
			WHERE status IN ('pending', 'running') AND created_at < $1
		  )
	`, cutoff)
	if err != nil {
		fmt.Println("update results failed:", err)
		return
	}
	fmt.Printf("Marked %d results as abandoned\n", tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
		UPDATE benchmark_runs SET status = 'done', error = 'abandoned', finished_at = now()
		WHERE status IN ('pending', 'running') AND created_at < $1
	`, cutoff)
	if err != nil {
		fmt.Println("update runs failed:", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		fmt.Println("commit failed:", err)
		return
	}
	fmt.Printf("Closed %d runs\n", tag.RowsAffected())
}

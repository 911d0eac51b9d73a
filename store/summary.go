package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

var ErrNoBatches = errors.New("no parquet batches found")

// Summary aggregates finished and unfinished games across an archive.
type Summary struct {
	Games     int64
	Moves     int64
	MeanScore float64
	P50Score  float64
	P90Score  float64
	BestScore int64
	// MaxTiles counts games by the largest tile they reached.
	MaxTiles []TileCount
}

type TileCount struct {
	Tile  int
	Games int64
}

// Share returns the fraction of games whose max tile is at least tile.
func (s Summary) Share(tile int) float64 {
	if s.Games == 0 {
		return 0
	}
	var n int64
	for _, tc := range s.MaxTiles {
		if tc.Tile >= tile {
			n += tc.Games
		}
	}
	return float64(n) / float64(s.Games)
}

// Summarize queries every batch directly under dirs. Files still in a tmp/
// subdirectory are not matched.
func Summarize(ctx context.Context, dirs ...string) (Summary, error) {
	globs := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		pattern := filepath.Join(dir, "*.parquet")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return Summary{}, fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			continue
		}
		globs = append(globs, "'"+escapeSQLString(pattern)+"'")
	}
	if len(globs) == 0 {
		return Summary{}, ErrNoBatches
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return Summary{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	view := `CREATE OR REPLACE VIEW games AS
		SELECT game_id,
			max(score)::BIGINT AS score,
			max(max_tile)::INTEGER AS max_tile,
			count(*)::BIGINT AS moves
		FROM read_parquet([` + strings.Join(globs, ",") + `], union_by_name=true)
		GROUP BY game_id`
	if _, err := db.ExecContext(ctx, view); err != nil {
		return Summary{}, fmt.Errorf("create view: %w", err)
	}

	var s Summary
	err = db.QueryRowContext(ctx, `SELECT
			count(*)::BIGINT,
			coalesce(sum(moves), 0)::BIGINT,
			coalesce(avg(score), 0)::DOUBLE,
			coalesce(quantile_cont(score, 0.5), 0)::DOUBLE,
			coalesce(quantile_cont(score, 0.9), 0)::DOUBLE,
			coalesce(max(score), 0)::BIGINT
		FROM games`).Scan(&s.Games, &s.Moves, &s.MeanScore, &s.P50Score, &s.P90Score, &s.BestScore)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT max_tile, count(*)::BIGINT FROM games GROUP BY max_tile ORDER BY max_tile`)
	if err != nil {
		return Summary{}, fmt.Errorf("query max tiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TileCount
		if err := rows.Scan(&tc.Tile, &tc.Games); err != nil {
			return Summary{}, err
		}
		s.MaxTiles = append(s.MaxTiles, tc)
	}
	return s, rows.Err()
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

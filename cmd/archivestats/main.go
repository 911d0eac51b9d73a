// Command archivestats summarises self-play parquet batches with DuckDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brensch/twenty48/store"
)

func main() {
	dirs := flag.String("dirs", "data/generated", "Comma-separated directories holding parquet batches")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	s, err := store.Summarize(ctx, strings.Split(*dirs, ",")...)
	if err != nil {
		log.Fatalf("summarize: %v", err)
	}

	fmt.Printf("games:       %d\n", s.Games)
	fmt.Printf("moves:       %d\n", s.Moves)
	fmt.Printf("mean score:  %.0f\n", s.MeanScore)
	fmt.Printf("p50 score:   %.0f\n", s.P50Score)
	fmt.Printf("p90 score:   %.0f\n", s.P90Score)
	fmt.Printf("best score:  %d\n", s.BestScore)
	fmt.Println("max tile reached:")
	for i := len(s.MaxTiles) - 1; i >= 0; i-- {
		tc := s.MaxTiles[i]
		fmt.Printf("  %6d  %6d games  %5.1f%% reached\n", tc.Tile, tc.Games, 100*s.Share(tc.Tile))
	}
	log.Printf("query took %v", time.Since(start))
}

package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// GameLog is an append-only file of game IDs that have been published in a
// batch, one per line. The self-play runner consults it before resuming a
// checkpoint so a game is never archived twice. A torn final line from a
// crash is ignored on the next open.
type GameLog struct {
	mu      sync.RWMutex
	file    *os.File
	written map[string]struct{}
}

func OpenGameLog(path string) (*GameLog, error) {
	if path == "" {
		return nil, errors.New("log path is required")
	}

	written := make(map[string]struct{})
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				written[id] = struct{}{}
			}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &GameLog{file: file, written: written}, nil
}

func (l *GameLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *GameLog) Has(gameID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.written[gameID]
	return ok
}

func (l *GameLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.written)
}

// Add records game IDs and syncs once. Known and empty IDs are skipped.
func (l *GameLog) Add(gameIDs ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("log file is closed")
	}

	added := 0
	for _, id := range gameIDs {
		if id == "" {
			continue
		}
		if _, ok := l.written[id]; ok {
			continue
		}
		if _, err := l.file.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		l.written[id] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

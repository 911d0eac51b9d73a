// Package weights reads and writes the evaluation weight document produced
// by tuning runs: an ordered list of floats with the score it achieved and
// when it was recorded.
package weights

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/twenty48/eval"
)

var ErrEmpty = errors.New("weight document has no weights")

type Document struct {
	Weights   []float64 `json:"weights"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// FromWeights captures w in evaluator order.
func FromWeights(w eval.Weights, score float64, at time.Time) Document {
	return Document{Weights: w.Vector(), Score: score, Timestamp: at.UTC()}
}

// Eval converts the vector to evaluator weights. Missing trailing entries
// keep their defaults.
func (d Document) Eval() (eval.Weights, error) {
	if len(d.Weights) == 0 {
		return eval.Weights{}, ErrEmpty
	}
	return eval.FromVector(d.Weights)
}

func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read weights: %w", err)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("decode weights %s: %w", path, err)
	}
	if len(d.Weights) == 0 {
		return Document{}, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return d, nil
}

// Save writes the document next to path and renames it into place.
func Save(path string, d Document) error {
	if len(d.Weights) == 0 {
		return ErrEmpty
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename weights: %w", err)
	}
	return nil
}

// LoadEval loads path and returns its evaluator weights, or the defaults
// when path is empty.
func LoadEval(path string) (eval.Weights, error) {
	if path == "" {
		return eval.DefaultWeights(), nil
	}
	d, err := Load(path)
	if err != nil {
		return eval.Weights{}, err
	}
	return d.Eval()
}

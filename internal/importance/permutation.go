package importance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"github.com/rs/zerolog/log"
)

// ErrNoLabels is returned when permutation importance runs on unlabeled data.
var ErrNoLabels = errors.New("permutation importance needs labels")

// PermutationConfig configures permutation importance.
type PermutationConfig struct {
	Repeats int   `yaml:"repeats"` // shuffles per feature, default 5
	Seed    int64 `yaml:"seed"`
}

// Permutation measures the drop in accuracy when each feature column is shuffled,
// averaged over Repeats shuffles. Positive scores mean the model relies on the
// feature.
func Permutation(ctx context.Context, adapter *model.Adapter, ds *dataset.Dataset, cfg PermutationConfig) (Ranking, error) {
	if cfg.Repeats == 0 {
		cfg.Repeats = 5
	}
	if cfg.Repeats < 0 {
		return nil, fmt.Errorf("repeats must be positive, got %d", cfg.Repeats)
	}
	if ds.Len() == 0 {
		return nil, dataset.ErrEmptyDataset
	}
	labels, ok := ds.Labels()
	if !ok {
		return nil, ErrNoLabels
	}
	if err := adapter.ValidateDataset(ds); err != nil {
		return nil, err
	}

	rows := ds.Rows()
	baseline, err := accuracy(adapter, rows, labels)
	if err != nil {
		return nil, err
	}

	names := adapter.Schema().Names()
	scores := make([]float64, len(names))
	for j := range names {
		rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(j)))
		drop := 0.0
		for r := 0; r < cfg.Repeats; r++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			permuted := shuffleColumn(rng, rows, j)
			acc, err := accuracy(adapter, permuted, labels)
			if err != nil {
				return nil, err
			}
			drop += baseline - acc
		}
		scores[j] = drop / float64(cfg.Repeats)
	}

	log.Info().
		Float64("baseline_accuracy", baseline).
		Int("repeats", cfg.Repeats).
		Int("instances", len(rows)).
		Msg("Permutation importance computed")

	return FromScores(names, scores)
}

func accuracy(adapter *model.Adapter, rows [][]float64, labels []float64) (float64, error) {
	pred, err := adapter.Predict(rows)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, p := range pred {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows)), nil
}

// shuffleColumn copies rows with column j shuffled.
func shuffleColumn(rng *rand.Rand, rows [][]float64, j int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	rng.Shuffle(len(out), func(a, b int) {
		out[a][j], out[b][j] = out[b][j], out[a][j]
	})
	return out
}

// Save writes a ranking as JSON.
func Save(path string, r Ranking) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a ranking written by Save.
func Load(path string) (Ranking, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking %s: %w", path, err)
	}
	var r Ranking
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse ranking %s: %w", path, err)
	}
	return r, nil
}

package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"model-explain/internal/dataset"

	"github.com/rs/zerolog/log"
)

// Model file types.
const (
	TypeLinear       = "linear"
	TypeTreeEnsemble = "tree_ensemble"
)

// File is the JSON document a trained model is exported to.
type File struct {
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Schema   dataset.Schema `json:"schema"`
	Linear   *LinearModel   `json:"linear,omitempty"`
	Ensemble *TreeEnsemble  `json:"ensemble,omitempty"`
}

// Predictor returns the model held by the file after validating it.
func (f *File) Predictor() (Predictor, error) {
	if err := f.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("model schema: %w", err)
	}
	n := f.Schema.Len()

	switch f.Type {
	case TypeLinear:
		if f.Linear == nil {
			return nil, fmt.Errorf("linear model file has no linear section")
		}
		if err := f.Linear.Validate(n); err != nil {
			return nil, err
		}
		return f.Linear, nil
	case TypeTreeEnsemble:
		if f.Ensemble == nil {
			return nil, fmt.Errorf("tree ensemble file has no ensemble section")
		}
		if err := f.Ensemble.Validate(n); err != nil {
			return nil, err
		}
		if f.Ensemble.NumFeatures == 0 {
			f.Ensemble.NumFeatures = n
		}
		return f.Ensemble, nil
	default:
		return nil, fmt.Errorf("unknown model type %q", f.Type)
	}
}

// LoadFile reads and validates a model file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	if _, err := f.Predictor(); err != nil {
		return nil, fmt.Errorf("invalid model file %s: %w", path, err)
	}

	log.Info().
		Str("model_path", path).
		Str("type", f.Type).
		Int("features", f.Schema.Len()).
		Msg("Model loaded")

	return &f, nil
}

// WriteFile saves a model file as indented JSON.
func WriteFile(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

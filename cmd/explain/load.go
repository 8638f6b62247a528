package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"model-explain/internal/cfg"
	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"github.com/rs/zerolog/log"
)

// loadAdapter opens the model file named in s. The file always supplies the schema;
// when a remote URL is configured predictions are served by that endpoint instead.
func loadAdapter(s cfg.Settings, m model.MetricsInterface) (*model.Adapter, string, error) {
	file, err := model.LoadFile(s.ModelPath)
	if err != nil {
		return nil, "", err
	}

	name := file.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(s.ModelPath), filepath.Ext(s.ModelPath))
	}

	var p model.Predictor
	if s.RemoteURL != "" {
		p = model.NewRemotePredictor(s.RemoteURL, s.RESTTimeout)
		log.Info().Str("url", s.RemoteURL).Msg("Using remote model predictions")
	} else if p, err = file.Predictor(); err != nil {
		return nil, "", err
	}

	opts := []model.AdapterOption{model.WithTargetClass(s.TargetClass)}
	if m != nil {
		opts = append(opts, model.WithMetrics(m))
	}
	adapter, err := model.NewAdapter(p, file.Schema, opts...)
	if err != nil {
		return nil, "", err
	}
	return adapter, name, nil
}

// loadData reads the CSV at path against the adapter's schema.
func loadData(adapter *model.Adapter, path, labelColumn string) (*dataset.Dataset, error) {
	if path == "" {
		return nil, fmt.Errorf("no data file given (set DATA_PATH or --data)")
	}
	return dataset.LoadCSV(path, adapter.Schema(), labelColumn)
}

// loadBackground returns the first BackgroundSize rows of the background file,
// falling back to data when no background file is configured.
func loadBackground(s cfg.Settings, adapter *model.Adapter, data *dataset.Dataset) (*dataset.Dataset, error) {
	bg := data
	if s.BackgroundPath != "" {
		var err error
		if bg, err = dataset.LoadCSV(s.BackgroundPath, adapter.Schema(), ""); err != nil {
			return nil, fmt.Errorf("background: %w", err)
		}
	}
	if bg.Len() == 0 {
		return nil, fmt.Errorf("background: %w", dataset.ErrEmptyDataset)
	}
	return bg.Head(s.BackgroundSize), nil
}

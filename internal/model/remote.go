package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemotePredictor calls a model served over HTTP.
//
//	POST {base}/predict  {"instances": [[...], ...]}
//	-> {"probabilities": [[...], ...]}
type RemotePredictor struct {
	base string
	rest *resty.Client
}

type remoteRequest struct {
	Instances [][]float64 `json:"instances"`
}

type remoteResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
	Error         string      `json:"error,omitempty"`
}

// NewRemotePredictor creates a client for the model server at base.
func NewRemotePredictor(base string, timeout time.Duration) *RemotePredictor {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	return &RemotePredictor{base: strings.TrimRight(base, "/"), rest: r}
}

// PredictProba sends rows to the model server.
func (p *RemotePredictor) PredictProba(rows [][]float64) ([][]float64, error) {
	for i, row := range rows {
		for j, v := range row {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("row %d, feature %d: missing values cannot be sent to the model server", i, j)
			}
		}
	}

	resp := &remoteResponse{}
	httpResp, err := p.rest.R().
		SetHeader("Content-Type", "application/json").
		SetBody(remoteRequest{Instances: rows}).
		SetResult(resp).
		SetError(resp).
		Post(p.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("model server request failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("model server: %s %s", httpResp.Status(), resp.Error)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("model server error: %s", resp.Error)
	}
	if len(resp.Probabilities) != len(rows) {
		return nil, fmt.Errorf("model server returned %d results for %d rows", len(resp.Probabilities), len(rows))
	}

	for i, probs := range resp.Probabilities {
		for j, prob := range probs {
			if prob < 0 || prob > 1 || math.IsNaN(prob) {
				return nil, fmt.Errorf("invalid probability %d of row %d: %f", j, i, prob)
			}
		}
	}
	return resp.Probabilities, nil
}

// Predict returns the most probable class for each row.
func (p *RemotePredictor) Predict(rows [][]float64) ([]float64, error) {
	probs, err := p.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	return argmax(probs), nil
}

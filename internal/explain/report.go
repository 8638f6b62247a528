package explain

import (
	"time"

	"model-explain/internal/attribution"
	"model-explain/internal/importance"
)

// Report is the outcome of one pipeline run.
type Report struct {
	ID            string                    `json:"id"`
	Model         string                    `json:"model"`
	Method        string                    `json:"method"`
	OutputSpace   string                    `json:"output_space"`
	CreatedAt     time.Time                 `json:"created_at"`
	Duration      time.Duration             `json:"duration"`
	Attributions  []attribution.Attribution `json:"attributions"`
	Ranking       importance.Ranking        `json:"ranking"`
	LowConfidence int                       `json:"low_confidence"`
	Errors        []InstanceError           `json:"errors,omitempty"`
}

// InstanceError records a non-fatal failure for one instance.
type InstanceError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Summary is a report without its attributions.
type Summary struct {
	ID            string             `json:"id"`
	Model         string             `json:"model"`
	Method        string             `json:"method"`
	CreatedAt     time.Time          `json:"created_at"`
	Instances     int                `json:"instances"`
	LowConfidence int                `json:"low_confidence"`
	Top           importance.Ranking `json:"top"`
}

// Summarize returns the report header with the n highest ranked features.
func (r *Report) Summarize(n int) Summary {
	top := r.Ranking
	if n >= 0 && n < len(top) {
		top = top[:n]
	}
	return Summary{
		ID:            r.ID,
		Model:         r.Model,
		Method:        r.Method,
		CreatedAt:     r.CreatedAt,
		Instances:     len(r.Attributions),
		LowConfidence: r.LowConfidence,
		Top:           top,
	}
}

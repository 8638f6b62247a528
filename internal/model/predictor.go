// Package model wraps trained classifiers behind a uniform prediction interface.
// It includes the Predictor contract, a schema-checking Adapter, JSON-loadable linear
// and tree-ensemble models, and an HTTP client for models served elsewhere.
//
// Models are opaque to the rest of the module: attribution code only sees the
// Adapter, which validates every row against the model's Schema before the call.
package model

// Predictor defines the interface for trained classifiers.
type Predictor interface {
	// Predict returns one class label per row.
	Predict(rows [][]float64) ([]float64, error)

	// PredictProba returns one class-probability vector per row.
	PredictProba(rows [][]float64) ([][]float64, error)
}

// Marginer is implemented by models with a raw additive output (log-odds for
// logistic models, summed leaf values for tree ensembles). Exact attribution
// methods explain this output.
type Marginer interface {
	Margin(rows [][]float64) ([]float64, error)
}

// MetricsInterface defines metrics methods needed by the adapter
type MetricsInterface interface {
	ModelPredictionsInc(n int)
	ModelFailuresInc()
	ModelLatencyObserve(float64)
}

const (
	LinkIdentity = "identity"
	LinkLogit    = "logit"
)

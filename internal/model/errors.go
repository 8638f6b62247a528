package model

import "fmt"

// InvalidSchemaError reports a mismatch between the data handed to a model and the
// schema the model was built for.
type InvalidSchemaError struct {
	Feature string // empty when the mismatch is not tied to one feature
	Row     int    // -1 when not tied to a row
	Reason  string
}

func (e *InvalidSchemaError) Error() string {
	switch {
	case e.Feature != "" && e.Row >= 0:
		return fmt.Sprintf("invalid schema: row %d, feature %q: %s", e.Row, e.Feature, e.Reason)
	case e.Feature != "":
		return fmt.Sprintf("invalid schema: feature %q: %s", e.Feature, e.Reason)
	case e.Row >= 0:
		return fmt.Sprintf("invalid schema: row %d: %s", e.Row, e.Reason)
	default:
		return "invalid schema: " + e.Reason
	}
}

func schemaErr(row int, feature, format string, args ...interface{}) *InvalidSchemaError {
	return &InvalidSchemaError{Feature: feature, Row: row, Reason: fmt.Sprintf(format, args...)}
}

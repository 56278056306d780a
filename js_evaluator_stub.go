//go:build !js_eval

package datastore

// NewJSEvaluator returns nil unless the package is built with the js_eval
// tag.
func NewJSEvaluator(...EvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool {
	return false
}

func isJSEvaluator(Evaluator) bool {
	return false
}

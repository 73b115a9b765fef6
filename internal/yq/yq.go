// Package yq wraps yqlib for evaluating yq expressions against the
// loaded config file.
package yq

import (
	"github.com/mikefarah/yq/v4/pkg/yqlib"
)

// NewYamlDecoder and the encoders below are thin aliases over yqlib's
// constructors, kept here so callers never import yqlib directly.
func NewYamlDecoder() yqlib.Decoder {
	return yqlib.NewYamlDecoder(yqlib.NewDefaultYamlPreferences())
}

func NewYamlEncoder() yqlib.Encoder {
	return yqlib.NewYamlEncoder(yqlib.NewDefaultYamlPreferences())
}

func NewJSONEncoder() yqlib.Encoder {
	return yqlib.NewJSONEncoder(yqlib.NewDefaultJsonPreferences())
}

// Evaluate runs expression against data (decoded with decoder) and
// re-encodes the result with encoder.
func Evaluate(expression string, data []byte, decoder yqlib.Decoder, encoder yqlib.Encoder) ([]byte, error) {
	result, err := yqlib.NewStringEvaluator().Evaluate(expression, string(data), encoder, decoder)
	if err != nil {
		return nil, err
	}
	return []byte(result), nil
}

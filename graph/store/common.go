package store

import (
	"encoding/json"
	"time"

	"github.com/kestrelsec/attackgraph/graph"
)

// repairNowFunc is indirected for deterministic tests, mirroring
// graph.nowFunc.
var repairNowFunc = time.Now

func marshalStrings(v []string) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var v []string
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func marshalEmbedding(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalEmbedding(s *string) ([]float32, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var v []float32
	err := json.Unmarshal([]byte(*s), &v)
	return v, err
}

func marshalParameters(p map[string]graph.ParamValue) (string, error) {
	if p == nil {
		p = map[string]graph.ParamValue{}
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func unmarshalParameters(s string) (map[string]graph.ParamValue, error) {
	out := map[string]graph.ParamValue{}
	if s == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}

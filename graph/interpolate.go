package graph

import "github.com/kestrelsec/attackgraph/graph/interpolate"

// InterpolateParameters walks a Step's Parameters tree in place (C6),
// replacing every `{{previous_outputs[N]}}` token found in a string leaf.
// Out-of-range indices are left untouched by interpolate.Resolve, per
// invariant 5 -- this function never errors.
func InterpolateParameters(params map[string]ParamValue, outputs []string) map[string]ParamValue {
	out := make(map[string]ParamValue, len(params))
	for k, v := range params {
		out[k] = interpolateValue(v, outputs)
	}
	return out
}

func interpolateValue(v ParamValue, outputs []string) ParamValue {
	switch v.Kind {
	case ParamKindString:
		return ParamString(interpolate.Resolve(v.Str, outputs))
	case ParamKindList:
		out := make([]ParamValue, len(v.List))
		for i, e := range v.List {
			out[i] = interpolateValue(e, outputs)
		}
		return ParamList(out)
	case ParamKindMap:
		out := make(map[string]ParamValue, len(v.Map))
		for k, e := range v.Map {
			out[k] = interpolateValue(e, outputs)
		}
		return ParamMap(out)
	default:
		return v
	}
}

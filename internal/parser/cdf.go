package parser

import (
	"fmt"
	"math"

	"github.com/nerrad567/mqtt-extractor/internal/jsoncodec"
	"github.com/vmihailenco/msgpack/v5"
)

// ParseCDF parses the standard JSON item format.
func ParseCDF(payload []byte, _ string) ([]Triple, error) {
	var doc any
	if err := jsoncodec.UnmarshalInt64(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return walkItems(doc)
}

// ParseCDFMsgpack parses the item format encoded as MessagePack.
func ParseCDFMsgpack(payload []byte, _ string) ([]Triple, error) {
	var doc any
	if err := msgpack.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return walkItems(doc)
}

// walkItems extracts triples from a decoded {"items": [...]} document.
func walkItems(doc any) ([]Triple, error) {
	root, ok := asObject(doc)
	if !ok {
		return nil, fmt.Errorf("%w: payload must be an object", ErrStructure)
	}
	rawItems, ok := root["items"]
	if !ok {
		return nil, fmt.Errorf("%w: missing items", ErrStructure)
	}
	items, ok := rawItems.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: items must be an array", ErrStructure)
	}

	var triples []Triple
	for i, rawItem := range items {
		item, ok := asObject(rawItem)
		if !ok {
			return nil, fmt.Errorf("%w: items[%d] must be an object", ErrStructure, i)
		}

		rawID, ok := item["externalId"]
		if !ok {
			return nil, fmt.Errorf("%w: items[%d]: missing externalId", ErrStructure, i)
		}
		externalID, ok := rawID.(string)
		if !ok {
			return nil, fmt.Errorf("%w: items[%d]: externalId must be a string", ErrStructure, i)
		}

		rawPoints, ok := item["datapoints"]
		if !ok {
			return nil, fmt.Errorf("%w: items[%d]: missing datapoints", ErrStructure, i)
		}
		points, ok := rawPoints.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: items[%d]: datapoints must be an array", ErrStructure, i)
		}

		for j, rawPoint := range points {
			point, ok := asObject(rawPoint)
			if !ok {
				return nil, fmt.Errorf("%w: items[%d].datapoints[%d] must be an object", ErrStructure, i, j)
			}
			rawTS, ok := point["timestamp"]
			if !ok {
				return nil, fmt.Errorf("%w: items[%d].datapoints[%d]: missing timestamp", ErrStructure, i, j)
			}
			rawValue, ok := point["value"]
			if !ok {
				return nil, fmt.Errorf("%w: items[%d].datapoints[%d]: missing value", ErrStructure, i, j)
			}

			triple, err := newTriple(externalID, rawTS, rawValue)
			if err != nil {
				return nil, fmt.Errorf("items[%d].datapoints[%d]: %w", i, j, err)
			}
			triples = append(triples, triple)
		}
	}
	return triples, nil
}

// newTriple normalises a decoded timestamp and value.
func newTriple(seriesID string, rawTS, rawValue any) (Triple, error) {
	t := Triple{SeriesID: seriesID}

	if rawTS != nil {
		ts, err := toTimestamp(rawTS)
		if err != nil {
			return Triple{}, err
		}
		t.Timestamp = &ts
	}

	if rawValue != nil {
		v, err := toValue(rawValue)
		if err != nil {
			return Triple{}, err
		}
		t.Value = v
	}
	return t, nil
}

func toTimestamp(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: timestamp %v is not an integer", ErrStructure, v)
		}
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: timestamp %v overflows int64", ErrStructure, v)
		}
		return int64(v), nil
	case float32:
		return toTimestamp(float64(v))
	case int64:
		return v, nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: timestamp %d overflows int64", ErrStructure, v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: timestamp must be a number, got %T", ErrStructure, raw)
	}
}

// toValue accepts numbers (as float64) and strings.
func toValue(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case bool:
		return nil, fmt.Errorf("%w: value must be a number or string, got bool", ErrStructure)
	default:
		ts, err := toTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: value must be a number or string, got %T", ErrStructure, raw)
		}
		return float64(ts), nil
	}
}

// asObject accepts both JSON objects and MessagePack maps with string keys.
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

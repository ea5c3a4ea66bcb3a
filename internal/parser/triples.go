package parser

import (
	"fmt"

	"github.com/nerrad567/mqtt-extractor/internal/jsoncodec"
)

// ParseTriples parses a flat JSON list of [externalId, timestamp, value] arrays.
func ParseTriples(payload []byte, _ string) ([]Triple, error) {
	var doc any
	if err := jsoncodec.UnmarshalInt64(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	rows, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload must be an array", ErrStructure)
	}

	triples := make([]Triple, 0, len(rows))
	for i, rawRow := range rows {
		row, ok := rawRow.([]any)
		if !ok || len(row) != 3 {
			return nil, fmt.Errorf("%w: element %d must be a [externalId, timestamp, value] array", ErrStructure, i)
		}
		externalID, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: element %d: externalId must be a string", ErrStructure, i)
		}
		triple, err := newTriple(externalID, row[1], row[2])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		triples = append(triples, triple)
	}
	return triples, nil
}

package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"netfuse/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports a graph snapshot from JSON
func (c *JSONCodec) Parse(r io.Reader) (*domain.Graph, error) {
	var graph domain.Graph
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&graph); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	graph.Sort()
	return &graph, nil
}

// Export writes a graph snapshot as indented JSON
func (c *JSONCodec) Export(graph *domain.Graph, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(graph); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

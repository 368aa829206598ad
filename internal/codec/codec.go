// Package codec imports and exports graph snapshots. JSON is the native wire
// form; YAML serves operators who keep snapshots in version control.
package codec

import (
	"fmt"
	"io"

	"netfuse/internal/domain"
)

// Importer parses a graph snapshot from an encoded stream.
type Importer interface {
	Parse(r io.Reader) (*domain.Graph, error)
	Format() string
}

// Exporter writes a graph snapshot to an encoded stream.
type Exporter interface {
	Export(graph *domain.Graph, w io.Writer) error
	Format() string
}

// ForFormat returns the codec registered under the format name.
func ForFormat(format string) (interface {
	Importer
	Exporter
}, error) {
	switch format {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
}

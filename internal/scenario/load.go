package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/uimatrix/internal/errs"
)

// LoadMatrix reads a YAML matrix file.
func LoadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix %s: %w", path, err)
	}
	m, err := ParseMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("parse matrix %s: %w", path, err)
	}
	return m, nil
}

// ParseMatrix decodes a YAML sequence of flat mappings. Key order inside
// each mapping is kept, since it defines the group label.
//
//	- ID_OPERACION: 4
//	- ID_OPERACION: 8
func ParseMatrix(data []byte) (Matrix, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Matrix{}, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid matrix yaml", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Matrix{}, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return Matrix{}, nil
	}
	if root.Kind != yaml.SequenceNode {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("matrix must be a sequence (line %d)", root.Line))
	}

	m := make(Matrix, 0, len(root.Content))
	for i, item := range root.Content {
		if item.Kind != yaml.MappingNode {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %d must be a mapping (line %d)", i, item.Line))
		}
		fields := make([]Field, 0, len(item.Content)/2)
		for j := 0; j+1 < len(item.Content); j += 2 {
			key, val := item.Content[j], item.Content[j+1]
			if val.Kind != yaml.ScalarNode {
				return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %d field %q must be a scalar (line %d)", i, key.Value, val.Line))
			}
			var v any
			if err := val.Decode(&v); err != nil {
				return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("scenario %d field %q", i, key.Value), err)
			}
			fields = append(fields, Field{Name: key.Value, Value: v})
		}
		sc, err := New(fields...)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		m = append(m, sc)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

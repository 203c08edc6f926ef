package catalog

import (
	"bytes"
	"context"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// File is a catalog held in a YAML document:
//
//	templates:
//	  SyntheticEvents: '{"id": "GenerateId(100)", "color": "ReferenceValue(Colors, Primary)"}'
//	tables:
//	  Colors:
//	    Primary: [red, green, blue]
type File struct {
	Templates map[string]string              `yaml:"templates"`
	Tables    map[string]map[string][]string `yaml:"tables"`
}

// LoadFile reads a file catalog from path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read catalog file").
			WithDetail("path", path)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog file").
			WithDetail("path", path)
	}
	return f, nil
}

// ParseFile decodes a file catalog document. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	f := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && err != io.EOF {
		return nil, err
	}
	return f, nil
}

// FetchTemplate returns the named template.
func (f *File) FetchTemplate(_ context.Context, name string) (string, error) {
	body, ok := f.Templates[name]
	if !ok {
		return "", templateNotFound(name)
	}
	return body, nil
}

// LoadReferenceValues returns the listed groups of table. Unknown tables
// yield an empty result so that lookups fail lazily, like missing groups.
func (f *File) LoadReferenceValues(_ context.Context, table string, groups []string) (map[string][]string, error) {
	out := make(map[string][]string, len(groups))
	for _, g := range groups {
		if values, ok := f.Tables[table][g]; ok {
			out[g] = values
		}
	}
	return out, nil
}

// Close is a no-op.
func (f *File) Close() error {
	return nil
}

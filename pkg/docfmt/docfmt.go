// Package docfmt decodes JSON, YAML and TOML documents through one strict JSON decoder.
//
// YAML and TOML input is coerced to JSON first, so json struct tags and
// DisallowUnknownFields apply uniformly to every format.
package docfmt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
)

var ErrTrailingData = errors.New("trailing data after document")

// FormatOf picks the format from the file extension. Unknown extensions are treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	case ".toml":
		return TOML
	default:
		return JSON
	}
}

// ToJSON converts data (in the format implied by path) to JSON bytes.
func ToJSON(path string, data []byte) ([]byte, Format, error) {
	f := FormatOf(path)
	var v any
	switch f {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		switch err := dec.Decode(&v); {
		case errors.Is(err, io.EOF):
			// empty document
		case err != nil:
			return nil, f, fmt.Errorf("yaml unmarshal: %w", err)
		default:
			var extra any
			if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
				return nil, f, trailing(err)
			}
		}
	case TOML:
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, f, fmt.Errorf("toml unmarshal: %w", err)
		}
	default:
		return data, f, nil
	}

	j, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, f, fmt.Errorf("%s->json marshal: %w", f, err)
	}
	return j, f, nil
}

// Decode converts data to JSON and decodes it into out, rejecting unknown fields and
// trailing documents (ErrTrailingData).
func Decode(path string, data []byte, out any) (Format, error) {
	jb, f, err := ToJSON(path, data)
	if err != nil {
		return f, err
	}
	return f, DecodeJSON(jb, out)
}

func DecodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return trailing(err)
	}
	return nil
}

// trailing reports a second document; err is the decode error of that document, if any.
func trailing(err error) error {
	if err == nil {
		return ErrTrailingData
	}
	return fmt.Errorf("%w: %v", ErrTrailingData, err)
}

// normalize makes every map key a string so the value can be JSON-marshaled.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalize(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	default:
		return in
	}
}

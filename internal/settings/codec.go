package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Codec converts a settings tree to and from its on-disk representation.
type Codec interface {
	Name() string
	Marshal(v Value) ([]byte, error)
	Unmarshal(data []byte) (Value, error)
}

// CodecFor picks a codec from the file extension. JSON is the default.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	case ".toml":
		return TOMLCodec{}
	default:
		return JSONCodec{}
	}
}

// JSONCodec stores settings as two-space indented JSON.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v Value) ([]byte, error) {
	data, err := json.MarshalIndent(v.ToAny(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (JSONCodec) Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	if dec.More() {
		return Value{}, fmt.Errorf("unexpected data after top-level value")
	}
	return rootFromAny(raw)
}

// YAMLCodec stores settings as YAML.
type YAMLCodec struct{}

func (YAMLCodec) Name() string { return "yaml" }

func (YAMLCodec) Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(v.ToAny()); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLCodec) Unmarshal(data []byte) (Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	if raw == nil {
		return EmptyMapping(), nil
	}
	return rootFromAny(raw)
}

// TOMLCodec stores settings as TOML. TOML has no null, so null leaves are
// omitted on write; defaults restore them on the next load.
type TOMLCodec struct{}

func (TOMLCodec) Name() string { return "toml" }

func (TOMLCodec) Marshal(v Value) ([]byte, error) {
	return toml.Marshal(stripNulls(v).ToAny())
}

func (TOMLCodec) Unmarshal(data []byte) (Value, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	return rootFromAny(raw)
}

func rootFromAny(raw any) (Value, error) {
	v, err := FromAny(raw)
	if err != nil {
		return Value{}, err
	}
	if v.kind != KindMapping {
		return Value{}, fmt.Errorf("top-level value is a %s, want a mapping", v.kind)
	}
	return v, nil
}

func stripNulls(v Value) Value {
	switch v.kind {
	case KindMapping:
		m := make(map[string]Value, len(v.m))
		for k, child := range v.m {
			if child.kind == KindNull {
				continue
			}
			m[k] = stripNulls(child)
		}
		return Mapping(m)
	case KindList:
		items := make([]Value, 0, len(v.list))
		for _, item := range v.list {
			if item.kind == KindNull {
				continue
			}
			items = append(items, stripNulls(item))
		}
		return List(items...)
	default:
		return v
	}
}

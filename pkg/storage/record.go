package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/cuemby/canopy/pkg/types"
)

// record is the stored form of a node. Containers are stored so that
// empty containers survive a restart. Numeric leaves carry the kind of
// their Go value so they load back with the same type.
type record struct {
	Leaf  bool   `json:"leaf,omitempty"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value,omitempty"`
}

func encodeRecord(n *types.Node) ([]byte, error) {
	rec := record{Leaf: n.IsLeaf()}
	if rec.Leaf {
		rec.Value = n.Value()
		rec.Type = numericKind(rec.Value)
	}
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return rec, err
	}
	v, err := decodeValue(rec.Type, rec.Value)
	if err != nil {
		return rec, err
	}
	rec.Value = v
	return rec, nil
}

func numericKind(v any) string {
	if v == nil {
		return ""
	}
	switch k := reflect.TypeOf(v).Kind(); k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return k.String()
	}
	return ""
}

// decodeValue turns a json.Number back into the numeric kind it was
// stored as. Untagged numbers become int when integral, float64 otherwise.
func decodeValue(kind string, v any) (any, error) {
	num, ok := v.(json.Number)
	if !ok {
		return normalize(v), nil
	}
	s := num.String()
	switch kind {
	case "":
		return normalize(num), nil
	case "int", "int8", "int16", "int32", "int64":
		bits := map[string]int{"int": 0, "int8": 8, "int16": 16, "int32": 32, "int64": 64}[kind]
		i, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", kind, s, err)
		}
		switch kind {
		case "int8":
			return int8(i), nil
		case "int16":
			return int16(i), nil
		case "int32":
			return int32(i), nil
		case "int64":
			return i, nil
		}
		return int(i), nil
	case "uint", "uint8", "uint16", "uint32", "uint64":
		bits := map[string]int{"uint": 0, "uint8": 8, "uint16": 16, "uint32": 32, "uint64": 64}[kind]
		u, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", kind, s, err)
		}
		switch kind {
		case "uint8":
			return uint8(u), nil
		case "uint16":
			return uint16(u), nil
		case "uint32":
			return uint32(u), nil
		case "uint64":
			return u, nil
		}
		return uint(u), nil
	case "float32":
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid float32 value %q: %w", s, err)
		}
		return float32(f), nil
	case "float64":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float64 value %q: %w", s, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", kind)
	}
}

// normalize replaces json.Number inside untagged values
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 0); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}

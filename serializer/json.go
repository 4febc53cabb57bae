package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// JSONSerializer is the default body codec. Values are encoded as UTF-8 JSON
// text; decoding matches member names case-insensitively, which is the
// behavior of encoding/json.
type JSONSerializer struct{}

// Encode ...
func (s *JSONSerializer) Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, wrapErr("encode", err)
	}
	return data, nil
}

// Decode ...
func (s *JSONSerializer) Decode(data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return wrapErr("decode", err)
	}
	return nil
}

// EncodeArgs encodes the argument vector as a JSON array.
func (s *JSONSerializer) EncodeArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, wrapErr("encode args", err)
	}
	return data, nil
}

// DecodeArgs decodes a JSON array body into one value per declared parameter
// type. The array length must equal the number of declared parameters.
func (s *JSONSerializer) DecodeArgs(data []byte, types []reflect.Type) ([]any, error) {
	var raw []json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, wrapErr("decode args", err)
		}
	}
	if len(raw) != len(types) {
		return nil, wrapErr("decode args",
			fmt.Errorf("got %d arguments, want %d", len(raw), len(types)))
	}

	args := make([]any, len(types))
	for i, t := range types {
		v := reflect.New(t)
		if err := json.Unmarshal(raw[i], v.Interface()); err != nil {
			return nil, wrapErr("decode args", err)
		}
		args[i] = v.Elem().Interface()
	}
	return args, nil
}

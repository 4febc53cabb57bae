package serializer

import (
	"errors"
	"reflect"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ProtoSerializer encodes bodies as protobuf wire format. Calls carry at most
// one argument and it must be a proto message; this mirrors how message-based
// protocols hand a single generated message across the wire.
type ProtoSerializer struct{}

var errNotProto = errors.New("value is not a proto message")

// Encode ...
func (s *ProtoSerializer) Encode(value any) ([]byte, error) {
	m, ok := value.(protoreflect.ProtoMessage)
	if !ok {
		return nil, wrapErr("encode", errNotProto)
	}
	data, err := proto.MarshalOptions{}.Marshal(m)
	if err != nil {
		return nil, wrapErr("encode", err)
	}
	return data, nil
}

// Decode ...
func (s *ProtoSerializer) Decode(data []byte, target any) error {
	m, ok := target.(protoreflect.ProtoMessage)
	if !ok {
		return wrapErr("decode", errNotProto)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return wrapErr("decode", err)
	}
	return nil
}

// EncodeArgs accepts zero arguments (empty body) or exactly one proto message.
func (s *ProtoSerializer) EncodeArgs(args []any) ([]byte, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return s.Encode(args[0])
	default:
		return nil, wrapErr("encode args", errors.New("proto bodies carry at most one argument"))
	}
}

// DecodeArgs ...
func (s *ProtoSerializer) DecodeArgs(data []byte, types []reflect.Type) ([]any, error) {
	switch len(types) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, wrapErr("decode args", errors.New("proto bodies carry at most one argument"))
	}

	t := types[0]
	if t.Kind() != reflect.Ptr {
		return nil, wrapErr("decode args", errNotProto)
	}
	v := reflect.New(t.Elem())
	m, ok := v.Interface().(protoreflect.ProtoMessage)
	if !ok {
		return nil, wrapErr("decode args", errNotProto)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, wrapErr("decode args", err)
	}
	return []any{m}, nil
}

// Package serializer provides pluggable payload encoding for the fastrpc
// runtime. A Serializer turns application values into packet body bytes and
// back; request bodies carry an ordered argument vector, reply bodies carry a
// single return value. Both peers of a connection must use symmetric
// implementations.
package serializer

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	errSerializerNotInit = errors.New("serializer not init")

	_serializer Serializer = &JSONSerializer{}
)

// Serializer 负载编码器.
type Serializer interface {
	// Encode serializes a single application value into body bytes.
	Encode(value any) ([]byte, error)

	// Decode deserializes body bytes into target, which must be a pointer.
	Decode(data []byte, target any) error

	// EncodeArgs serializes an ordered argument vector into request body bytes.
	EncodeArgs(args []any) ([]byte, error)

	// DecodeArgs deserializes request body bytes into one value per declared
	// parameter type, in declaration order.
	DecodeArgs(data []byte, types []reflect.Type) ([]any, error)
}

// Error reports an encode or decode failure of a Serializer implementation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("serializer: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Encode 打包.
func Encode(value any) ([]byte, error) {
	if _serializer == nil {
		return nil, errSerializerNotInit
	}
	return _serializer.Encode(value)
}

// Decode 解包.
func Decode(data []byte, target any) error {
	if _serializer == nil {
		return errSerializerNotInit
	}
	return _serializer.Decode(data, target)
}

// Default returns the process-wide serializer.
func Default() Serializer {
	return _serializer
}

// SetDefault 设置编码器.
func SetDefault(s Serializer) {
	_serializer = s
}

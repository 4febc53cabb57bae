package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

type profile struct {
	Name  string
	Level int
}

func TestJSONEncodeDecode(t *testing.T) {
	s := &JSONSerializer{}

	data, err := s.Encode(profile{Name: "ash", Level: 3})
	assert.NoError(t, err)

	var got profile
	assert.NoError(t, s.Decode(data, &got))
	assert.Equal(t, profile{Name: "ash", Level: 3}, got)
}

func TestJSONDecodeCaseInsensitive(t *testing.T) {
	s := &JSONSerializer{}

	// member names match case-insensitively on decode
	var got profile
	assert.NoError(t, s.Decode([]byte(`{"NAME":"ash","LeVeL":9}`), &got))
	assert.Equal(t, "ash", got.Name)
	assert.Equal(t, 9, got.Level)
}

func TestJSONEncodeArgs(t *testing.T) {
	s := &JSONSerializer{}

	data, err := s.EncodeArgs([]any{"hi", 2, true})
	assert.NoError(t, err)
	assert.JSONEq(t, `["hi",2,true]`, string(data))

	// nil argument vector encodes as an empty array
	data, err = s.EncodeArgs(nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestJSONDecodeArgs(t *testing.T) {
	s := &JSONSerializer{}
	types := []reflect.Type{
		reflect.TypeOf(""),
		reflect.TypeOf(0),
		reflect.TypeOf(profile{}),
	}

	args, err := s.DecodeArgs([]byte(`["ash", 7, {"name":"misty","level":2}]`), types)
	assert.NoError(t, err)
	assert.Equal(t, "ash", args[0])
	assert.Equal(t, 7, args[1])
	assert.Equal(t, profile{Name: "misty", Level: 2}, args[2])
}

func TestJSONDecodeArgsEmpty(t *testing.T) {
	s := &JSONSerializer{}

	args, err := s.DecodeArgs(nil, nil)
	assert.NoError(t, err)
	assert.Len(t, args, 0)

	args, err = s.DecodeArgs([]byte(`[]`), nil)
	assert.NoError(t, err)
	assert.Len(t, args, 0)
}

func TestJSONDecodeArgsArityMismatch(t *testing.T) {
	s := &JSONSerializer{}
	types := []reflect.Type{reflect.TypeOf("")}

	_, err := s.DecodeArgs([]byte(`["a","b"]`), types)
	var serErr *Error
	assert.True(t, errors.As(err, &serErr), "want *serializer.Error, got %T", err)

	_, err = s.DecodeArgs([]byte(`[]`), types)
	assert.Error(t, err)
}

func TestJSONDecodeFailure(t *testing.T) {
	s := &JSONSerializer{}

	var got int
	err := s.Decode([]byte(`"text"`), &got)
	var serErr *Error
	assert.True(t, errors.As(err, &serErr))
	assert.ErrorContains(t, err, "serializer")
}

func TestDefaultSerializer(t *testing.T) {
	assert.IsType(t, &JSONSerializer{}, Default())

	data, err := Encode(42)
	assert.NoError(t, err)

	var got int
	assert.NoError(t, Decode(data, &got))
	assert.Equal(t, 42, got)
}

package serializer

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoEncodeDecode(t *testing.T) {
	s := &ProtoSerializer{}

	data, err := s.Encode(wrapperspb.String("hello"))
	assert.NoError(t, err)

	got := &wrapperspb.StringValue{}
	assert.NoError(t, s.Decode(data, got))
	assert.Equal(t, "hello", got.GetValue())
}

func TestProtoRejectsNonProto(t *testing.T) {
	s := &ProtoSerializer{}

	_, err := s.Encode("not proto")
	assert.Error(t, err)

	assert.Error(t, s.Decode([]byte{}, &struct{}{}))
}

func TestProtoArgs(t *testing.T) {
	s := &ProtoSerializer{}

	data, err := s.EncodeArgs([]any{wrapperspb.Int64(7)})
	assert.NoError(t, err)

	args, err := s.DecodeArgs(data, []reflect.Type{reflect.TypeOf(&wrapperspb.Int64Value{})})
	assert.NoError(t, err)
	assert.Len(t, args, 1)
	assert.Equal(t, int64(7), args[0].(*wrapperspb.Int64Value).GetValue())
}

func TestProtoArgsZero(t *testing.T) {
	s := &ProtoSerializer{}

	data, err := s.EncodeArgs(nil)
	assert.NoError(t, err)
	assert.Empty(t, data)

	args, err := s.DecodeArgs(nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, args)
}

func TestProtoArgsTooMany(t *testing.T) {
	s := &ProtoSerializer{}

	_, err := s.EncodeArgs([]any{wrapperspb.Int64(1), wrapperspb.Int64(2)})
	assert.Error(t, err)
}

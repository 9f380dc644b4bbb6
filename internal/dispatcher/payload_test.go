package dispatcher

import (
	"testing"
	"time"

	"upkeep-dispatcher/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestPayload_RoundTrip(t *testing.T) {
	issued := time.UnixMilli(1767225600123)
	b, err := EncodePayload(Payload{Targets: []string{"http://a", "grpc://b:9000"}, IssuedAt: issued})
	require.NoError(t, err)

	p, err := DecodePayload(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "grpc://b:9000"}, p.Targets)
	assert.True(t, issued.Equal(p.IssuedAt))
}

func TestPayload_EmptyTargetList(t *testing.T) {
	b, err := EncodePayload(Payload{IssuedAt: time.Now()})
	require.NoError(t, err)

	p, err := DecodePayload(b)
	require.NoError(t, err)
	assert.Empty(t, p.Targets)
}

func TestPayload_RejectsGarbage(t *testing.T) {
	_, err := DecodePayload([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = DecodePayload(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	s, _ := structpb.NewStruct(map[string]interface{}{"targets": []interface{}{"http://a", 42.0}})
	b, _ := proto.Marshal(s)
	_, err = DecodePayload(b)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

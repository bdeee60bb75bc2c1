package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/app/live"
)

func TestSignalWireFormat(t *testing.T) {
	sig := live.Signal{ConversationID: "c1", Participants: []string{"a", "b"}, Messages: true}

	payload, err := encodeSignal(sig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversation_id":"c1","participants":["a","b"],"messages":true,"conversations":false}`, payload)

	got, err := decodeSignal(payload)
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestSignalWithoutConversationIsRejected(t *testing.T) {
	_, err := encodeSignal(live.Signal{})
	assert.Error(t, err)
	_, err = decodeSignal(`{"messages":true}`)
	assert.Error(t, err)
	_, err = decodeSignal(`garbage`)
	assert.Error(t, err)
}

func TestDefaultChannel(t *testing.T) {
	assert.Equal(t, DefaultChannel, Signals{}.channel())
	assert.Equal(t, "x", Signals{Channel: "x"}.channel())
}

package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalFromEvent(t *testing.T) {
	t.Run("message sent touches both views", func(t *testing.T) {
		sig, ok, err := SignalFromEvent("chat.message_sent.v1", []byte(`{"conversation_id":"c1","participants":["a","b"]}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Signal{ConversationID: "c1", Participants: []string{"a", "b"}, Messages: true, Conversations: true}, sig)
	})
	t.Run("read without flips leaves messages alone", func(t *testing.T) {
		sig, ok, err := SignalFromEvent("chat.conversation_read", []byte(`{"conversation_id":"c1","flipped":0}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, sig.Messages)
		assert.True(t, sig.Conversations)
	})
	t.Run("archive touches conversation lists only", func(t *testing.T) {
		sig, ok, err := SignalFromEvent("chat.conversation_archived.v1", []byte(`{"conversation_id":"c1","participants":["a","b"],"archived":true}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Signal{ConversationID: "c1", Participants: []string{"a", "b"}, Conversations: true}, sig)
	})
	t.Run("unrelated events are skipped", func(t *testing.T) {
		_, ok, err := SignalFromEvent("listing.created.v1", []byte(`not json`))
		assert.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("broken payload", func(t *testing.T) {
		_, _, err := SignalFromEvent("chat.conversation_started", []byte(`{`))
		assert.Error(t, err)
		_, _, err = SignalFromEvent("chat.conversation_started", []byte(`{}`))
		assert.Error(t, err)
	})
}

package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenPairKey_Symmetric(t *testing.T) {
	assert.Equal(t, "pr_alice:bob", GenPairKey("alice", "bob"))
	assert.Equal(t, GenPairKey("alice", "bob"), GenPairKey("bob", "alice"))
	assert.NotEqual(t, GenPairKey("a_b", "c"), GenPairKey("a", "b_c"))
}

func TestConversation_Counterpart(t *testing.T) {
	conv := NewConversation("zoe", "adam")

	assert.Equal(t, "adam", conv.ParticipantA)
	assert.Equal(t, "zoe", conv.ParticipantB)
	assert.Equal(t, "zoe", conv.Counterpart("adam"))
	assert.Equal(t, "adam", conv.Counterpart("zoe"))
	assert.Equal(t, "", conv.Counterpart("eve"))
	assert.True(t, conv.HasParticipant("zoe"))
	assert.False(t, conv.HasParticipant(""))
}

func TestMessage_Before(t *testing.T) {
	a := &Message{Id: 2, CreatedAt: 10}
	b := &Message{Id: 1, CreatedAt: 11}
	c := &Message{Id: 3, CreatedAt: 10}

	assert.True(t, a.Before(b))
	assert.True(t, a.Before(c))
	assert.False(t, c.Before(a))
}

func TestChangeEvent_Column(t *testing.T) {
	ev, err := NewChangeEvent("messages", "INSERT", &Message{
		Id:             1234567890123456789,
		ConversationId: "c1",
		SenderId:       "u1",
	})
	require.NoError(t, err)

	v, ok := ev.Column("id")
	require.True(t, ok)
	assert.Equal(t, "1234567890123456789", v)

	v, ok = ev.Column("conversation_id")
	require.True(t, ok)
	assert.Equal(t, "c1", v)

	_, ok = ev.Column("missing")
	assert.False(t, ok)

	msg, err := ev.DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123456789), msg.Id)
}

package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/entity"
)

func TestReadState_MarkConversationRead(t *testing.T) {
	fs := newFaultStore()
	conv := fs.SeedConversation(&entity.Conversation{ParticipantA: "me", ParticipantB: "you"})
	in := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", CreatedAt: 1})
	own := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "me", CreatedAt: 2})
	rs := NewReadState(fs)
	ctx := context.Background()

	n, err := rs.MarkConversationRead(ctx, conv.Id, "me")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rs.MarkConversationRead(ctx, conv.Id, "me")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := fs.Message(in.Id)
	assert.True(t, got.Read)
	got, _ = fs.Message(own.Id)
	assert.False(t, got.Read)

	n, err = rs.MarkConversationRead(ctx, conv.Id, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadState_MarkMessageRead(t *testing.T) {
	fs := newFaultStore()
	conv := fs.SeedConversation(&entity.Conversation{ParticipantA: "me", ParticipantB: "you"})
	in := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", CreatedAt: 1})
	other := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", CreatedAt: 2})
	own := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "me", CreatedAt: 3})
	rs := NewReadState(fs)
	ctx := context.Background()

	ok, err := rs.MarkMessageRead(ctx, own, "me")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rs.MarkMessageRead(ctx, in, "me")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := fs.Message(other.Id)
	assert.False(t, got.Read)
	got, _ = fs.Message(own.Id)
	assert.False(t, got.Read)
}

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/entity"
)

func TestTimeline_KeepsOrderAndDropsDuplicates(t *testing.T) {
	tl := newTimeline("me", 1000)

	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 3, SenderId: "you", Content: "c", CreatedAt: 30}))
	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 1, SenderId: "you", Content: "a", CreatedAt: 10}))
	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 4, SenderId: "you", Content: "b2", CreatedAt: 20}))
	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 2, SenderId: "you", Content: "b1", CreatedAt: 20}))
	assert.Equal(t, applyNone, tl.apply(&entity.Message{Id: 3, SenderId: "you", Content: "c", CreatedAt: 30}))

	assert.Equal(t, []string{"a", "b1", "b2", "c"}, contents(tl.views()))
}

func TestTimeline_ReadFlagNeverReverts(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.apply(&entity.Message{Id: 1, SenderId: "you", CreatedAt: 1})

	assert.Equal(t, applyMerged, tl.apply(&entity.Message{Id: 1, SenderId: "you", CreatedAt: 1, Read: true}))
	assert.Equal(t, applyNone, tl.apply(&entity.Message{Id: 1, SenderId: "you", CreatedAt: 1, Read: false}))
	assert.True(t, tl.views()[0].Read)
}

func TestTimeline_FeedCopyConfirmsPendingByClientMsgId(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.appendPending("l1", &entity.Message{ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 100})

	res := tl.apply(&entity.Message{Id: 7, ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 180})
	assert.Equal(t, applyMerged, res)

	views := tl.views()
	require.Len(t, views, 1)
	assert.False(t, views[0].Pending)
	assert.Equal(t, int64(7), views[0].Id)
	assert.Equal(t, int64(180), views[0].CreatedAt)

	v := tl.confirm("l1", &entity.Message{Id: 7, ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 180})
	assert.Equal(t, int64(7), v.Id)
	assert.Len(t, tl.views(), 1)
}

func TestTimeline_ConfirmBeforeFeedCopy(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.appendPending("l1", &entity.Message{ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 100})

	v := tl.confirm("l1", &entity.Message{Id: 9, ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 120})
	assert.False(t, v.Pending)
	assert.Equal(t, applyNone, tl.apply(&entity.Message{Id: 9, ClientMsgId: "l1", SenderId: "me", Content: "hello", CreatedAt: 120}))
	assert.Len(t, tl.views(), 1)
}

func TestTimeline_ContentMatchWithinWindow(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.appendPending("l1", &entity.Message{SenderId: "me", Content: "same", CreatedAt: 5000})
	tl.appendPending("l2", &entity.Message{SenderId: "me", Content: "same", CreatedAt: 9000})

	// Closest pending row within the window wins.
	assert.Equal(t, applyMerged, tl.apply(&entity.Message{Id: 1, SenderId: "me", Content: "same", CreatedAt: 8800}))
	views := tl.views()
	require.Len(t, views, 2)
	assert.True(t, views[0].Pending)
	assert.Equal(t, "l1", views[0].LocalId)
	assert.Equal(t, int64(1), views[1].Id)

	// Too far from l1 to be its copy.
	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 2, SenderId: "me", Content: "same", CreatedAt: 7000}))
	assert.Len(t, tl.views(), 3)
}

func TestTimeline_CounterpartNeverClaimsPending(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.appendPending("l1", &entity.Message{SenderId: "me", Content: "hi", CreatedAt: 100})

	assert.Equal(t, applyAdded, tl.apply(&entity.Message{Id: 1, SenderId: "you", Content: "hi", CreatedAt: 100}))
	assert.Len(t, tl.views(), 2)
}

func TestTimeline_RemoveAndMarkRead(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.appendPending("l1", &entity.Message{SenderId: "me", Content: "x", CreatedAt: 1})
	tl.apply(&entity.Message{Id: 1, SenderId: "you", CreatedAt: 2})
	tl.apply(&entity.Message{Id: 2, SenderId: "me", CreatedAt: 3})

	assert.True(t, tl.remove("l1"))
	assert.False(t, tl.remove("l1"))

	assert.False(t, tl.markRead(2))
	assert.True(t, tl.markRead(1))
	assert.False(t, tl.markRead(1))

	assert.True(t, tl.removeId(2))
	assert.False(t, tl.removeId(2))
	require.Len(t, tl.views(), 1)
	assert.True(t, tl.views()[0].Read)
}

func TestTimeline_MarkIncomingReadSkipsOwn(t *testing.T) {
	tl := newTimeline("me", 1000)
	tl.apply(&entity.Message{Id: 1, SenderId: "you", CreatedAt: 1})
	tl.apply(&entity.Message{Id: 2, SenderId: "you", CreatedAt: 2, Read: true})
	tl.apply(&entity.Message{Id: 3, SenderId: "me", CreatedAt: 3})

	assert.Equal(t, 1, tl.markIncomingRead())
	views := tl.views()
	assert.True(t, views[0].Read)
	assert.True(t, views[1].Read)
	assert.False(t, views[2].Read)
}

package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/repository/memstore"
	"github.com/mbeoliero/amora/internal/session"
	"github.com/mbeoliero/amora/pkg/notify"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testViewer struct {
	mu  sync.Mutex
	id  string
	hub notify.Hub[session.Event]
}

func newViewer(id string) *testViewer {
	return &testViewer{id: id}
}

func (v *testViewer) UserId() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

func (v *testViewer) Subscribe(fn func(session.Event)) func() {
	return v.hub.Subscribe(fn)
}

func (v *testViewer) signOut() {
	v.mu.Lock()
	id := v.id
	v.id = ""
	v.mu.Unlock()
	v.hub.Emit(session.Event{Type: session.SignedOut, UserId: id})
}

// faultStore wraps a memstore and injects failures and pauses
type faultStore struct {
	*memstore.Store

	mu               sync.Mutex
	findMessagesErr  error
	insertMessageErr error
	findConvsErr     error
	profilesErr      error
	beforeInsertConv func()

	// fetchGate pauses FindMessages after it has read the rows
	fetchGate    chan struct{}
	fetchStarted chan struct{}
	// insertGate pauses InsertMessage before it writes
	insertGate chan struct{}

	insertCalls atomic.Int32
}

func newFaultStore(opts ...memstore.Option) *faultStore {
	return &faultStore{Store: memstore.New(opts...)}
}

func (f *faultStore) set(fn func(f *faultStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *faultStore) FindMessages(ctx context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	f.mu.Lock()
	err, gate, started := f.findMessagesErr, f.fetchGate, f.fetchStarted
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := f.Store.FindMessages(ctx, q)
	if gate != nil {
		if started != nil {
			close(started)
			f.set(func(f *faultStore) { f.fetchStarted = nil })
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return rows, err
}

func (f *faultStore) InsertMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	f.insertCalls.Add(1)
	f.mu.Lock()
	err, gate := f.insertMessageErr, f.insertGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.Store.InsertMessage(ctx, msg)
}

func (f *faultStore) FindConversations(ctx context.Context, q remote.ConversationQuery) ([]*entity.Conversation, error) {
	f.mu.Lock()
	err := f.findConvsErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.FindConversations(ctx, q)
}

func (f *faultStore) GetProfiles(ctx context.Context, ids []string) (map[string]*entity.Profile, error) {
	f.mu.Lock()
	err := f.profilesErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.GetProfiles(ctx, ids)
}

func (f *faultStore) InsertConversation(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, error) {
	f.mu.Lock()
	hook := f.beforeInsertConv
	f.beforeInsertConv = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.Store.InsertConversation(ctx, conv)
}

func memstoreClock(start int64) memstore.Option {
	return memstore.WithClock(sequenceClock(start))
}

// sequenceClock returns increasing millisecond timestamps
func sequenceClock(start int64) func() int64 {
	var n atomic.Int64
	n.Store(start)
	return func() int64 {
		return n.Add(1)
	}
}

func openLive(t *testing.T, room *Room) {
	t.Helper()
	require.NoError(t, room.Open(context.Background()))
	require.Equal(t, RoomLive, room.State().Status)
}

func contents(msgs []MessageView) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func countContent(msgs []MessageView, content string) int {
	n := 0
	for _, m := range msgs {
		if m.Content == content {
			n++
		}
	}
	return n
}

package chat

import (
	"cmp"
	"slices"

	"github.com/mbeoliero/amora/internal/entity"
)

// MessageView is one row of an open room's log. Pending rows were sent from
// this client and are not confirmed by the server yet; they carry a LocalId
// and no Id.
type MessageView struct {
	Id             int64  `json:"id,omitempty"`
	LocalId        string `json:"local_id,omitempty"`
	ConversationId string `json:"conversation_id"`
	ClientMsgId    string `json:"client_msg_id,omitempty"`
	SenderId       string `json:"sender_id"`
	Content        string `json:"content"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"created_at"`
	Pending        bool   `json:"pending"`
}

type entryKind int

const (
	kindConfirmed entryKind = iota
	kindPending
)

// entry is either Pending(localId) or Confirmed(msg.Id)
type entry struct {
	kind    entryKind
	localId string
	msg     entity.Message
}

func (e *entry) view() MessageView {
	v := MessageView{
		ConversationId: e.msg.ConversationId,
		ClientMsgId:    e.msg.ClientMsgId,
		SenderId:       e.msg.SenderId,
		Content:        e.msg.Content,
		Read:           e.msg.Read,
		CreatedAt:      e.msg.CreatedAt,
	}
	if e.kind == kindPending {
		v.LocalId = e.localId
		v.Pending = true
	} else {
		v.Id = e.msg.Id
	}
	return v
}

func compareEntries(a, b *entry) int {
	if c := cmp.Compare(a.msg.CreatedAt, b.msg.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.msg.Id, b.msg.Id); c != 0 {
		return c
	}
	return cmp.Compare(a.localId, b.localId)
}

// timeline is the ordered, duplicate free message log of one room.
// It is not safe for concurrent use; the room guards it.
type timeline struct {
	viewerId string
	window   int64
	entries  []*entry
	byId     map[int64]*entry
}

func newTimeline(viewerId string, windowMillis int64) *timeline {
	return &timeline{
		viewerId: viewerId,
		window:   windowMillis,
		byId:     make(map[int64]*entry),
	}
}

func (t *timeline) reset() {
	t.entries = nil
	t.byId = make(map[int64]*entry)
}

type applyResult int

const (
	applyNone applyResult = iota
	applyAdded
	applyMerged
)

// apply merges a server row into the log. A known id only converges its
// read flag. A row of the viewer takes over the pending entry it confirms.
func (t *timeline) apply(msg *entity.Message) applyResult {
	if cur, ok := t.byId[msg.Id]; ok {
		if cur.msg.Read || !msg.Read {
			return applyNone
		}
		cur.msg.Read = true
		return applyMerged
	}

	if msg.SenderId == t.viewerId {
		if p := t.matchPending(msg); p != nil {
			t.promote(p, msg)
			return applyMerged
		}
	}

	e := &entry{kind: kindConfirmed, msg: *msg}
	t.byId[msg.Id] = e
	t.insert(e)
	return applyAdded
}

func (t *timeline) matchPending(msg *entity.Message) *entry {
	if msg.ClientMsgId != "" {
		for _, e := range t.entries {
			if e.kind == kindPending && e.msg.ClientMsgId == msg.ClientMsgId {
				return e
			}
		}
	}

	var best *entry
	var bestGap int64
	for _, e := range t.entries {
		if e.kind != kindPending || e.msg.Content != msg.Content {
			continue
		}
		// A pending row with a client id is only claimed by that id.
		if msg.ClientMsgId != "" && e.msg.ClientMsgId != "" {
			continue
		}
		gap := e.msg.CreatedAt - msg.CreatedAt
		if gap < 0 {
			gap = -gap
		}
		if gap > t.window {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = e, gap
		}
	}
	return best
}

func (t *timeline) promote(e *entry, msg *entity.Message) {
	e.kind = kindConfirmed
	e.localId = ""
	e.msg = *msg
	t.byId[msg.Id] = e
	t.sort()
}

func (t *timeline) appendPending(localId string, msg *entity.Message) MessageView {
	e := &entry{kind: kindPending, localId: localId, msg: *msg}
	t.insert(e)
	return e.view()
}

// confirm turns the pending entry localId into the server row. When the
// feed already delivered that row the pending entry is dropped instead.
func (t *timeline) confirm(localId string, msg *entity.Message) MessageView {
	if cur, ok := t.byId[msg.Id]; ok {
		t.remove(localId)
		cur.msg.Read = cur.msg.Read || msg.Read
		return cur.view()
	}

	for _, e := range t.entries {
		if e.kind == kindPending && e.localId == localId {
			t.promote(e, msg)
			return e.view()
		}
	}

	e := &entry{kind: kindConfirmed, msg: *msg}
	t.byId[msg.Id] = e
	t.insert(e)
	return e.view()
}

func (t *timeline) remove(localId string) bool {
	for i, e := range t.entries {
		if e.kind == kindPending && e.localId == localId {
			t.entries = slices.Delete(t.entries, i, i+1)
			return true
		}
	}
	return false
}

func (t *timeline) removeId(id int64) bool {
	e, ok := t.byId[id]
	if !ok {
		return false
	}
	delete(t.byId, id)
	if i := slices.Index(t.entries, e); i >= 0 {
		t.entries = slices.Delete(t.entries, i, i+1)
	}
	return true
}

// markRead sets the read flag of one confirmed row not sent by the viewer
func (t *timeline) markRead(id int64) bool {
	e, ok := t.byId[id]
	if !ok || e.msg.SenderId == t.viewerId || e.msg.Read {
		return false
	}
	e.msg.Read = true
	return true
}

// markIncomingRead sets the read flag of every confirmed row not sent by
// the viewer.
func (t *timeline) markIncomingRead() int {
	n := 0
	for _, e := range t.entries {
		if e.kind == kindConfirmed && e.msg.SenderId != t.viewerId && !e.msg.Read {
			e.msg.Read = true
			n++
		}
	}
	return n
}

func (t *timeline) views() []MessageView {
	out := make([]MessageView, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.view())
	}
	return out
}

func (t *timeline) insert(e *entry) {
	i, _ := slices.BinarySearchFunc(t.entries, e, compareEntries)
	t.entries = slices.Insert(t.entries, i, e)
}

func (t *timeline) sort() {
	slices.SortFunc(t.entries, compareEntries)
}

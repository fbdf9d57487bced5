// Package memstore is an in-process implementation of the remote data
// service. It keeps the same contracts as the SQL-backed store: unique
// conversation pairs, idempotent message inserts and a change event after
// every mutation.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/constant"
	"github.com/mbeoliero/amora/pkg/idgen"
)

var _ remote.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithClock overrides the server clock used for created_at
func WithClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds rows in maps guarded by one mutex
type Store struct {
	mu        sync.Mutex
	convs     map[string]*entity.Conversation
	pairs     map[string]string
	msgs      map[int64]*entity.Message
	clientIds map[string]int64
	profiles  map[string]*entity.Profile
	lastMsgId int64

	now  func() int64
	feed *Feed
}

// New creates an empty store with its own feed
func New(opts ...Option) *Store {
	s := &Store{
		convs:     make(map[string]*entity.Conversation),
		pairs:     make(map[string]string),
		msgs:      make(map[int64]*entity.Message),
		clientIds: make(map[string]int64),
		profiles:  make(map[string]*entity.Profile),
		now:       entity.NowUnixMilli,
		feed:      NewFeed(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed returns the change feed fed by this store
func (s *Store) Feed() *Feed {
	return s.feed
}

// PutProfile inserts or replaces a profile without publishing
func (s *Store) PutProfile(p *entity.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.Id] = &cp
}

// SeedConversation stores conv as is, without publishing
func (s *Store) SeedConversation(conv *entity.Conversation) *entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *conv
	if cp.PairKey == "" {
		cp.ParticipantA, cp.ParticipantB = entity.SortPair(cp.ParticipantA, cp.ParticipantB)
		cp.PairKey = entity.GenPairKey(cp.ParticipantA, cp.ParticipantB)
	}
	if cp.Id == "" {
		cp.Id = s.newConversationId()
	}
	s.convs[cp.Id] = &cp
	s.pairs[cp.PairKey] = cp.Id
	out := cp
	return &out
}

// SeedMessage stores msg keeping its timestamp and read flag, without
// publishing. A zero id is assigned.
func (s *Store) SeedMessage(msg *entity.Message) *entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	if cp.Id == 0 {
		cp.Id = s.nextMsgId()
	} else if cp.Id > s.lastMsgId {
		s.lastMsgId = cp.Id
	}
	s.msgs[cp.Id] = &cp
	if cp.ClientMsgId != "" {
		s.clientIds[clientKey(cp.SenderId, cp.ClientMsgId)] = cp.Id
	}
	out := cp
	return &out
}

// Message returns a copy of the stored message
func (s *Store) Message(id int64) (*entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// FindConversations implements remote.ConversationStore
func (s *Store) FindConversations(_ context.Context, q remote.ConversationQuery) ([]*entity.Conversation, error) {
	s.mu.Lock()
	out := make([]*entity.Conversation, 0)
	for _, c := range s.convs {
		if q.Participant != "" && !c.HasParticipant(q.Participant) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *entity.Conversation) int {
		cmp := compareInt(a.LastActivityAt, b.LastActivityAt)
		if cmp == 0 {
			cmp = strings.Compare(a.Id, b.Id)
		}
		if q.Order == remote.OrderDesc {
			return -cmp
		}
		return cmp
	})
	return paginate(out, q.Offset, q.Limit), nil
}

// GetConversation implements remote.ConversationStore
func (s *Store) GetConversation(_ context.Context, id string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// FindConversationByPair implements remote.ConversationStore
func (s *Store) FindConversationByPair(_ context.Context, userA, userB string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pairs[entity.GenPairKey(userA, userB)]
	if !ok {
		return nil, remote.ErrNotFound
	}
	cp := *s.convs[id]
	return &cp, nil
}

// InsertConversation implements remote.ConversationStore
func (s *Store) InsertConversation(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, error) {
	s.mu.Lock()
	cp := *conv
	cp.ParticipantA, cp.ParticipantB = entity.SortPair(cp.ParticipantA, cp.ParticipantB)
	cp.PairKey = entity.GenPairKey(cp.ParticipantA, cp.ParticipantB)
	if _, exists := s.pairs[cp.PairKey]; exists {
		s.mu.Unlock()
		return nil, remote.ErrConflict
	}
	if cp.Id == "" {
		cp.Id = s.newConversationId()
	}
	if _, exists := s.convs[cp.Id]; exists {
		s.mu.Unlock()
		return nil, remote.ErrConflict
	}
	now := s.now()
	if cp.CreatedAt == 0 {
		cp.CreatedAt = now
	}
	if cp.LastActivityAt == 0 {
		cp.LastActivityAt = cp.CreatedAt
	}
	s.convs[cp.Id] = &cp
	s.pairs[cp.PairKey] = cp.Id
	out := cp
	s.mu.Unlock()

	s.publish(ctx, constant.TableConversations, constant.EventInsert, &out)
	return &out, nil
}

// TouchConversation implements remote.ConversationStore
func (s *Store) TouchConversation(ctx context.Context, id string, at int64) error {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return remote.ErrNotFound
	}
	if at <= c.LastActivityAt {
		s.mu.Unlock()
		return nil
	}
	c.LastActivityAt = at
	out := *c
	s.mu.Unlock()

	s.publish(ctx, constant.TableConversations, constant.EventUpdate, &out)
	return nil
}

// DeleteConversation implements remote.ConversationStore
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return remote.ErrNotFound
	}
	delete(s.convs, id)
	delete(s.pairs, c.PairKey)
	for mid, m := range s.msgs {
		if m.ConversationId == id {
			delete(s.msgs, mid)
			delete(s.clientIds, clientKey(m.SenderId, m.ClientMsgId))
		}
	}
	out := *c
	s.mu.Unlock()

	s.publish(ctx, constant.TableConversations, constant.EventDelete, &out)
	return nil
}

// FindMessages implements remote.MessageStore
func (s *Store) FindMessages(_ context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	s.mu.Lock()
	out := s.selectLocked(q)
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *entity.Message) int {
		cmp := compareInt(a.CreatedAt, b.CreatedAt)
		if cmp == 0 {
			cmp = compareInt(a.Id, b.Id)
		}
		if q.Order == remote.OrderDesc {
			return -cmp
		}
		return cmp
	})
	return paginate(out, q.Offset, q.Limit), nil
}

// CountMessages implements remote.MessageStore
func (s *Store) CountMessages(_ context.Context, q remote.MessageQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.selectLocked(q))), nil
}

// InsertMessage implements remote.MessageStore
func (s *Store) InsertMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	s.mu.Lock()
	if msg.ClientMsgId != "" {
		if id, ok := s.clientIds[clientKey(msg.SenderId, msg.ClientMsgId)]; ok {
			existing := *s.msgs[id]
			s.mu.Unlock()
			return &existing, nil
		}
	}
	if _, ok := s.convs[msg.ConversationId]; !ok {
		s.mu.Unlock()
		return nil, remote.ErrNotFound
	}

	cp := *msg
	cp.Id = s.nextMsgId()
	cp.CreatedAt = s.now()
	cp.Read = false
	if cp.ClientMsgId == "" {
		cp.ClientMsgId = idgen.NewUUID()
	}
	s.msgs[cp.Id] = &cp
	s.clientIds[clientKey(cp.SenderId, cp.ClientMsgId)] = cp.Id
	out := cp
	s.mu.Unlock()

	s.publish(ctx, constant.TableMessages, constant.EventInsert, &out)
	return &out, nil
}

// MarkRead implements remote.MessageStore
func (s *Store) MarkRead(ctx context.Context, q remote.MessageQuery) (int64, error) {
	q.UnreadOnly = true

	s.mu.Lock()
	var changed []entity.Message
	for _, m := range s.msgs {
		if !matchMessage(m, q) {
			continue
		}
		m.Read = true
		changed = append(changed, *m)
	}
	s.mu.Unlock()

	slices.SortFunc(changed, func(a, b entity.Message) int {
		return compareInt(a.Id, b.Id)
	})
	for i := range changed {
		s.publish(ctx, constant.TableMessages, constant.EventUpdate, &changed[i])
	}
	return int64(len(changed)), nil
}

// DeleteMessages implements remote.MessageStore
func (s *Store) DeleteMessages(ctx context.Context, q remote.MessageQuery) (int64, error) {
	s.mu.Lock()
	var removed []entity.Message
	for id, m := range s.msgs {
		if !matchMessage(m, q) {
			continue
		}
		delete(s.msgs, id)
		delete(s.clientIds, clientKey(m.SenderId, m.ClientMsgId))
		removed = append(removed, *m)
	}
	s.mu.Unlock()

	for i := range removed {
		s.publish(ctx, constant.TableMessages, constant.EventDelete, &removed[i])
	}
	return int64(len(removed)), nil
}

// GetProfile implements remote.ProfileStore
func (s *Store) GetProfile(_ context.Context, userId string) (*entity.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userId]
	if !ok {
		return nil, remote.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetProfiles implements remote.ProfileStore
func (s *Store) GetProfiles(_ context.Context, userIds []string) (map[string]*entity.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*entity.Profile, len(userIds))
	for _, id := range userIds {
		if p, ok := s.profiles[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

// UpdateProfile implements remote.ProfileStore
func (s *Store) UpdateProfile(ctx context.Context, userId string, upd remote.ProfileUpdate) (*entity.Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[userId]
	if !ok {
		s.mu.Unlock()
		return nil, remote.ErrNotFound
	}
	if upd.Nickname != nil {
		p.Nickname = *upd.Nickname
	}
	if upd.PhotoURL != nil {
		p.PhotoURL = *upd.PhotoURL
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	out := *p
	s.mu.Unlock()

	s.publish(ctx, constant.TableUsers, constant.EventUpdate, &out)
	return &out, nil
}

func (s *Store) selectLocked(q remote.MessageQuery) []*entity.Message {
	out := make([]*entity.Message, 0)
	for _, m := range s.msgs {
		if matchMessage(m, q) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) publish(ctx context.Context, table, eventType string, row any) {
	ev, err := entity.NewChangeEvent(table, eventType, row)
	if err != nil {
		return
	}
	_ = s.feed.Publish(ctx, ev)
}

func (s *Store) nextMsgId() int64 {
	s.lastMsgId++
	return s.lastMsgId
}

func (s *Store) newConversationId() string {
	id, err := idgen.NextStringID()
	if err != nil {
		return fmt.Sprintf("conv-%d", len(s.convs)+1)
	}
	return id
}

func matchMessage(m *entity.Message, q remote.MessageQuery) bool {
	if q.Id != 0 && m.Id != q.Id {
		return false
	}
	if q.ConversationId != "" && m.ConversationId != q.ConversationId {
		return false
	}
	if q.SenderId != "" && m.SenderId != q.SenderId {
		return false
	}
	if q.SenderNot != "" && m.SenderId == q.SenderNot {
		return false
	}
	if q.UnreadOnly && m.Read {
		return false
	}
	return true
}

func clientKey(senderId, clientMsgId string) string {
	return senderId + "|" + clientMsgId
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

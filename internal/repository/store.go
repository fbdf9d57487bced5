package repository

import (
	"context"
	"errors"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/constant"
)

var _ remote.Store = (*Store)(nil)

// Store is the SQL-backed data service. Every committed mutation is
// published on the change feed after the write.
type Store struct {
	users    *UserRepo
	convs    *ConversationRepo
	msgs     *MessageRepo
	profiles *ProfileCache
	pub      remote.Publisher
}

// NewStore creates a new Store
func NewStore(users *UserRepo, convs *ConversationRepo, msgs *MessageRepo, profiles *ProfileCache, pub remote.Publisher) *Store {
	return &Store{users: users, convs: convs, msgs: msgs, profiles: profiles, pub: pub}
}

// FindConversations implements remote.ConversationStore
func (s *Store) FindConversations(ctx context.Context, q remote.ConversationQuery) ([]*entity.Conversation, error) {
	return s.convs.Find(ctx, q)
}

// GetConversation implements remote.ConversationStore
func (s *Store) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	return s.convs.GetById(ctx, id)
}

// FindConversationByPair implements remote.ConversationStore
func (s *Store) FindConversationByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	return s.convs.GetByPair(ctx, userA, userB)
}

// InsertConversation implements remote.ConversationStore
func (s *Store) InsertConversation(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, error) {
	row := *conv
	if err := s.convs.Create(ctx, &row); err != nil {
		return nil, err
	}
	s.publish(ctx, constant.TableConversations, constant.EventInsert, &row)
	return &row, nil
}

// TouchConversation implements remote.ConversationStore
func (s *Store) TouchConversation(ctx context.Context, id string, at int64) error {
	changed, err := s.convs.Touch(ctx, id, at)
	if err != nil || !changed {
		return err
	}
	conv, err := s.convs.GetById(ctx, id)
	if err != nil {
		log.CtxWarn(ctx, "reload touched conversation failed: conversation_id=%s, err=%v", id, err)
		return nil
	}
	s.publish(ctx, constant.TableConversations, constant.EventUpdate, conv)
	return nil
}

// DeleteConversation implements remote.ConversationStore
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	conv, err := s.convs.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, constant.TableConversations, constant.EventDelete, conv)
	return nil
}

// FindMessages implements remote.MessageStore
func (s *Store) FindMessages(ctx context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	return s.msgs.Find(ctx, q)
}

// CountMessages implements remote.MessageStore
func (s *Store) CountMessages(ctx context.Context, q remote.MessageQuery) (int64, error) {
	return s.msgs.Count(ctx, q)
}

// InsertMessage implements remote.MessageStore
func (s *Store) InsertMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	saved, created, err := s.msgs.Create(ctx, msg)
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(ctx, constant.TableMessages, constant.EventInsert, saved)
	}
	return saved, nil
}

// MarkRead implements remote.MessageStore
func (s *Store) MarkRead(ctx context.Context, q remote.MessageQuery) (int64, error) {
	changed, err := s.msgs.MarkRead(ctx, q)
	if err != nil {
		return 0, err
	}
	for _, m := range changed {
		s.publish(ctx, constant.TableMessages, constant.EventUpdate, m)
	}
	return int64(len(changed)), nil
}

// DeleteMessages implements remote.MessageStore
func (s *Store) DeleteMessages(ctx context.Context, q remote.MessageQuery) (int64, error) {
	removed, err := s.msgs.Delete(ctx, q)
	if err != nil {
		return 0, err
	}
	for _, m := range removed {
		s.publish(ctx, constant.TableMessages, constant.EventDelete, m)
	}
	return int64(len(removed)), nil
}

// GetProfile implements remote.ProfileStore
func (s *Store) GetProfile(ctx context.Context, userId string) (*entity.Profile, error) {
	profiles, err := s.GetProfiles(ctx, []string{userId})
	if err != nil {
		return nil, err
	}
	p, ok := profiles[userId]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return p, nil
}

// GetProfiles implements remote.ProfileStore
func (s *Store) GetProfiles(ctx context.Context, userIds []string) (map[string]*entity.Profile, error) {
	out := s.profiles.Get(ctx, userIds)

	var missing []string
	for _, id := range userIds {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	users, err := s.users.GetByIds(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make([]*entity.Profile, 0, len(users))
	for _, u := range users {
		p := u.ToProfile()
		out[u.Id] = p
		fresh = append(fresh, p)
	}
	s.profiles.Set(ctx, fresh...)
	return out, nil
}

// UpdateProfile implements remote.ProfileStore
func (s *Store) UpdateProfile(ctx context.Context, userId string, upd remote.ProfileUpdate) (*entity.Profile, error) {
	user, err := s.users.Update(ctx, userId, upd)
	if err != nil {
		return nil, err
	}
	s.profiles.Invalidate(ctx, userId)
	p := user.ToProfile()
	if !upd.Empty() {
		s.publish(ctx, constant.TableUsers, constant.EventUpdate, p)
	}
	return p, nil
}

// publish emits a change event. The write is already committed, so a
// failure only costs subscribers a live update.
func (s *Store) publish(ctx context.Context, table, eventType string, row any) {
	ev, err := entity.NewChangeEvent(table, eventType, row)
	if err == nil {
		err = s.pub.Publish(ctx, ev)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.CtxWarn(ctx, "publish change event failed: table=%s, type=%s, err=%v", table, eventType, err)
	}
}

package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/idgen"
)

// ConversationRepo is the repository for conversation operations
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Find lists conversations matching q
func (r *ConversationRepo) Find(ctx context.Context, q remote.ConversationQuery) ([]*entity.Conversation, error) {
	var convs []*entity.Conversation
	err := r.db.WithContext(ctx).
		Scopes(conversationScope(q), paginate(q.Limit, q.Offset)).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// GetById gets conversation by Id
func (r *ConversationRepo) GetById(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &conv, nil
}

// GetByPair gets the conversation between two users in either order
func (r *ConversationRepo) GetByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).
		Where("pair_key = ?", entity.GenPairKey(userA, userB)).
		First(&conv).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &conv, nil
}

// Create inserts conv, normalizing the pair. It returns remote.ErrConflict
// when the pair or the id already exists.
func (r *ConversationRepo) Create(ctx context.Context, conv *entity.Conversation) error {
	conv.ParticipantA, conv.ParticipantB = entity.SortPair(conv.ParticipantA, conv.ParticipantB)
	conv.PairKey = entity.GenPairKey(conv.ParticipantA, conv.ParticipantB)
	if conv.Id == "" {
		id, err := idgen.NextStringID()
		if err != nil {
			return err
		}
		conv.Id = id
	}
	now := entity.NowUnixMilli()
	if conv.CreatedAt == 0 {
		conv.CreatedAt = now
	}
	if conv.LastActivityAt == 0 {
		conv.LastActivityAt = conv.CreatedAt
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return remote.ErrConflict
	}
	return nil
}

// Touch moves last_activity_at forward to at. It reports whether the row
// changed; an older at leaves the row untouched.
func (r *ConversationRepo) Touch(ctx context.Context, id string, at int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Conversation{}).
		Where("id = ? AND last_activity_at < ?", id, at).
		Update("last_activity_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.GetById(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Delete removes the conversation and its messages
func (r *ConversationRepo) Delete(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&conv).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&entity.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &conv, nil
}

func conversationScope(q remote.ConversationQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q.Participant != "" {
			db = db.Where("participant_a = ? OR participant_b = ?", q.Participant, q.Participant)
		}
		if q.Order == remote.OrderDesc {
			return db.Order("last_activity_at DESC").Order("id DESC")
		}
		return db.Order("last_activity_at ASC").Order("id ASC")
	}
}

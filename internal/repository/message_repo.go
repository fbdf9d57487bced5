package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/idgen"
)

// MessageRepo is the repository for message operations
type MessageRepo struct {
	db  *gorm.DB
	gen idgen.IDGenerator
	now func() int64
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(db *gorm.DB, gen idgen.IDGenerator) *MessageRepo {
	return &MessageRepo{db: db, gen: gen, now: entity.NowUnixMilli}
}

// Find lists messages matching q ordered by (created_at, id)
func (r *MessageRepo) Find(ctx context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Scopes(messageScope(q), messageOrder(q.Order), paginate(q.Limit, q.Offset)).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Count counts messages matching q
func (r *MessageRepo) Count(ctx context.Context, q remote.MessageQuery) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Scopes(messageScope(q)).
		Count(&count).Error
	return count, err
}

// GetByClientMsgId gets message by sender_id and client_msg_id (for idempotency check)
func (r *MessageRepo) GetByClientMsgId(ctx context.Context, senderId, clientMsgId string) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND client_msg_id = ?", senderId, clientMsgId).
		First(&msg).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &msg, nil
}

// Create stores msg with a fresh id and the server timestamp. It reports
// false with the first stored row when (sender_id, client_msg_id) repeats.
func (r *MessageRepo) Create(ctx context.Context, msg *entity.Message) (*entity.Message, bool, error) {
	if msg.ClientMsgId != "" {
		existing, err := r.GetByClientMsgId(ctx, msg.SenderId, msg.ClientMsgId)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, remote.ErrNotFound) {
			return nil, false, err
		}
	}

	var exists int64
	if err := r.db.WithContext(ctx).Model(&entity.Conversation{}).
		Where("id = ?", msg.ConversationId).Count(&exists).Error; err != nil {
		return nil, false, err
	}
	if exists == 0 {
		return nil, false, remote.ErrNotFound
	}

	row, err := r.newRow(msg)
	if err != nil {
		return nil, false, err
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, false, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a concurrent insert of the same client id.
		existing, err := r.GetByClientMsgId(ctx, row.SenderId, row.ClientMsgId)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &row, true, nil
}

// newRow stamps msg for insertion. A message without a client id gets a
// random one so the (sender_id, client_msg_id) index never joins it to
// another row.
func (r *MessageRepo) newRow(msg *entity.Message) (entity.Message, error) {
	id, err := r.gen.NextID()
	if err != nil {
		return entity.Message{}, err
	}
	row := *msg
	row.Id = id
	row.CreatedAt = r.now()
	row.Read = false
	if row.ClientMsgId == "" {
		row.ClientMsgId = idgen.NewUUID()
	}
	return row, nil
}

// MarkRead sets is_read on the unread rows matching q and returns them
func (r *MessageRepo) MarkRead(ctx context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	q.UnreadOnly = true
	var changed []*entity.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&entity.Message{}).
			Scopes(messageScope(q)).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&entity.Message{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Update("is_read", true).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("id ASC").Find(&changed).Error
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Delete removes the rows matching q and returns them
func (r *MessageRepo) Delete(ctx context.Context, q remote.MessageQuery) ([]*entity.Message, error) {
	var removed []*entity.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(messageScope(q)).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		ids := make([]int64, len(removed))
		for i, m := range removed {
			ids[i] = m.Id
		}
		return tx.Where("id IN ?", ids).Delete(&entity.Message{}).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func messageScope(q remote.MessageQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q.Id != 0 {
			db = db.Where("id = ?", q.Id)
		}
		if q.ConversationId != "" {
			db = db.Where("conversation_id = ?", q.ConversationId)
		}
		if q.SenderId != "" {
			db = db.Where("sender_id = ?", q.SenderId)
		}
		if q.SenderNot != "" {
			db = db.Where("sender_id <> ?", q.SenderNot)
		}
		if q.UnreadOnly {
			db = db.Where("is_read = ?", false)
		}
		return db
	}
}

func messageOrder(order remote.Order) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if order == remote.OrderDesc {
			return db.Order("created_at DESC").Order("id DESC")
		}
		return db.Order("created_at ASC").Order("id ASC")
	}
}

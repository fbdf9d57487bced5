package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
)

// UserRepo is the repository for user operations
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a new UserRepo
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create creates a new user. An existing id returns remote.ErrConflict.
func (r *UserRepo) Create(ctx context.Context, user *entity.User) error {
	return mapErr(r.db.WithContext(ctx).Create(user).Error)
}

// GetById gets user by Id
func (r *UserRepo) GetById(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

// GetByIds gets users by Ids
func (r *UserRepo) GetByIds(ctx context.Context, ids []string) ([]*entity.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*entity.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Update applies the profile update and returns the stored row
func (r *UserRepo) Update(ctx context.Context, id string, upd remote.ProfileUpdate) (*entity.User, error) {
	updates := profileUpdates(upd)
	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return r.GetById(ctx, id)
}

// Exists checks if user exists
func (r *UserRepo) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func profileUpdates(upd remote.ProfileUpdate) map[string]any {
	updates := make(map[string]any, 3)
	if upd.Nickname != nil {
		updates["nickname"] = *upd.Nickname
	}
	if upd.PhotoURL != nil {
		updates["photo_url"] = *upd.PhotoURL
	}
	if upd.Bio != nil {
		updates["bio"] = *upd.Bio
	}
	return updates
}

package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/presence-service/internal/persistence"
)

// UserModel is the gorm mapping of the users table.
type UserModel struct {
	ID              string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	Name            string     `gorm:"column:name;type:varchar(255);not null;default:''"`
	Email           string     `gorm:"column:email;type:varchar(255);not null;default:''"`
	Role            string     `gorm:"column:role;type:varchar(64);not null;default:''"`
	ProfileImageURL string     `gorm:"column:profile_image_url;type:varchar(1024);not null;default:''"`
	IsOnline        bool       `gorm:"column:is_online;not null;default:false;index:idx_users_online_last_seen,priority:1"`
	LastSeenAt      *time.Time `gorm:"column:last_seen_at;index:idx_users_online_last_seen,priority:2"`
	LastLoginAt     *time.Time `gorm:"column:last_login_at;index"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) toPersistence() persistence.User {
	return persistence.User{
		ID:              m.ID,
		Name:            m.Name,
		Email:           m.Email,
		Role:            m.Role,
		ProfileImageURL: m.ProfileImageURL,
		IsOnline:        m.IsOnline,
		LastSeenAt:      utcPtr(m.LastSeenAt),
		LastLoginAt:     utcPtr(m.LastLoginAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func userModelFrom(u persistence.User) *UserModel {
	return &UserModel{
		ID:              u.ID,
		Name:            u.Name,
		Email:           strings.ToLower(strings.TrimSpace(u.Email)),
		Role:            u.Role,
		ProfileImageURL: u.ProfileImageURL,
		IsOnline:        u.IsOnline,
		LastSeenAt:      utcPtr(u.LastSeenAt),
		LastLoginAt:     utcPtr(u.LastLoginAt),
		CreatedAt:       u.CreatedAt.UTC(),
		UpdatedAt:       u.UpdatedAt.UTC(),
	}
}

// UserRepository implements persistence.UserRepository on gorm.
type UserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserRepository wraps db.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("relational: user id is required")
	}
	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	err := r.db.WithContext(ctx).Create(userModelFrom(user)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: user %s", persistence.ErrDuplicate, user.ID)
	}
	return err
}

func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	model := userModelFrom(user)
	// A map keeps gorm from skipping zero values such as is_online=false.
	result := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", user.ID).Updates(map[string]any{
		"name":              model.Name,
		"email":             model.Email,
		"role":              model.Role,
		"profile_image_url": model.ProfileImageURL,
		"is_online":         model.IsOnline,
		"last_seen_at":      model.LastSeenAt,
		"last_login_at":     model.LastLoginAt,
		"updated_at":        r.now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return persistence.User{}, persistence.ErrNotFound
		}
		return persistence.User{}, err
	}
	return model.toPersistence(), nil
}

func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	var models []UserModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return toPersistenceUsers(models), nil
}

func (r *UserRepository) ListUsersActiveSince(ctx context.Context, since time.Time) ([]persistence.User, error) {
	var models []UserModel
	err := r.db.WithContext(ctx).
		Where("(last_login_at IS NOT NULL AND last_login_at >= ?) OR is_online = ?", since.UTC(), true).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toPersistenceUsers(models), nil
}

// MarkStaleOffline demotes online users last seen before cutoff in one statement.
func (r *UserRepository) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&UserModel{}).
		Where("is_online = ? AND last_seen_at IS NOT NULL AND last_seen_at < ?", true, cutoff.UTC()).
		Updates(map[string]any{"is_online": false, "updated_at": r.now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("mark stale users offline: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&UserModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func toPersistenceUsers(models []UserModel) []persistence.User {
	users := make([]persistence.User, 0, len(models))
	for i := range models {
		users = append(users, models[i].toPersistence())
	}
	return users
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

var (
	_ persistence.UserRepository = (*UserRepository)(nil)
	_ persistence.StaleDemoter   = (*UserRepository)(nil)
)

package store

import (
	"context"
	"encoding/json"
	"errors"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/model"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	userCachePrefix = "user:"
	userCacheTTL    = time.Hour
)

// cachedUser 缓存中保留密码摘要，model.User 的 JSON 表示不包含它
type cachedUser struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
}

// UserStore 用户存储，配置了 Redis 时按用户名缓存
type UserStore struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserStore(db *gorm.DB, rdb *redis.Client) *UserStore {
	return &UserStore{db: db, redis: rdb}
}

// FindByUsername 先查缓存，未命中再查库并回填
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	const op = "store.FindByUsername"

	if s.redis != nil {
		if val, err := s.redis.Get(ctx, userCachePrefix+username).Bytes(); err == nil {
			var cu cachedUser
			if json.Unmarshal(val, &cu) == nil {
				u := &model.User{Username: cu.Username, Email: cu.Email, PasswordHash: cu.PasswordHash, Role: cu.Role, IsActive: cu.IsActive}
				u.ID = cu.ID
				return u, nil
			}
		}
	}

	var user model.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(op, apperr.NotFound, "用户不存在")
		}
		return nil, apperr.E(op, apperr.Internal, err)
	}
	s.cache(ctx, &user)
	return &user, nil
}

func (s *UserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New("store.FindUserByID", apperr.NotFound, "用户不存在")
		}
		return nil, apperr.E("store.FindUserByID", apperr.Internal, err)
	}
	return &user, nil
}

// Create 用户名或邮箱重复时返回 Conflict
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return apperr.New("store.CreateUser", apperr.Conflict, "用户名或邮箱已存在")
		}
		return apperr.E("store.CreateUser", apperr.Internal, err)
	}
	s.cache(ctx, user)
	return nil
}

// TouchLogin 记录最近登录时间
func (s *UserStore) TouchLogin(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("last_login", at.UTC()).Error
	return apperr.E("store.TouchLogin", apperr.Internal, err)
}

// EnsureAdmin 不存在 admin 用户时用给定密码创建，返回是否新建
func (s *UserStore) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", "admin").Count(&count).Error; err != nil {
		return false, apperr.E("store.EnsureAdmin", apperr.Internal, err)
	}
	if count > 0 {
		return false, nil
	}
	admin := model.User{Username: "admin", Email: "admin@shorturl.local", Role: model.RoleAdmin, IsActive: true}
	if err := admin.SetPassword(password); err != nil {
		return false, apperr.E("store.EnsureAdmin", apperr.Internal, err)
	}
	if err := s.Create(ctx, &admin); err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserStore) cache(ctx context.Context, u *model.User) {
	if s.redis == nil {
		return
	}
	b, err := json.Marshal(cachedUser{ID: u.ID, Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash, Role: u.Role, IsActive: u.IsActive})
	if err != nil {
		return
	}
	s.redis.Set(ctx, userCachePrefix+u.Username, b, userCacheTTL)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
)

const (
	defaultUserCacheTTL      = 30 * time.Minute
	defaultUserCacheEmptyTTL = 5 * time.Minute
	userInfoKeyPrefix        = "user:info:"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
)

type UserRole string

const (
	UserRoleUser   UserRole = "user"
	UserRoleAdmin  UserRole = "admin"
	UserRoleBanned UserRole = "banned"
)

// User is one account row. SubmitCount and ResolveCount are maintained by
// the intake and judge paths respectively.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         UserRole
	JoinTime     time.Time
	SubmitCount  int64
	ResolveCount int64
}

type UserRepository interface {
	Create(ctx context.Context, tx db.Transaction, user *User) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error)
	GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error)
	IncrementSubmitCount(ctx context.Context, tx db.Transaction, userID int64) error
	IncrementResolveCount(ctx context.Context, tx db.Transaction, userID int64) error
}

type MySQLUserRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewUserRepository(database db.Database, cacheClient cache.Cache) UserRepository {
	return NewUserRepositoryWithTTL(database, cacheClient, defaultUserCacheTTL, defaultUserCacheEmptyTTL)
}

func NewUserRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) UserRepository {
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultUserCacheEmptyTTL
	}
	return &MySQLUserRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const userColumns = "id, username, password_hash, role, join_time, submit_count, resolve_count"

func (r *MySQLUserRepository) Create(ctx context.Context, tx db.Transaction, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("user is nil")
	}
	if user.Username == "" {
		return 0, errors.New("username is required")
	}
	if user.PasswordHash == "" {
		return 0, errors.New("passwordHash is required")
	}
	role := user.Role
	if role == "" {
		role = UserRoleUser
	}

	query := "INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, user.Username, user.PasswordHash, role)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return 0, ErrUsernameExists
		}
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	user.ID = id
	user.Role = role
	return id, nil
}

func (r *MySQLUserRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	if id <= 0 {
		return nil, errors.New("id is required")
	}
	if r.cache != nil && tx == nil {
		user, err := cache.GetWithCached[*User](
			ctx,
			r.cache,
			userInfoKey(id),
			r.ttl,
			r.emptyTTL,
			func(user *User) bool { return user == nil },
			marshalUser,
			unmarshalUser,
			func(ctx context.Context) (*User, error) {
				user, err := r.getByIDFromDB(ctx, nil, id)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return user, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}
	return r.getByIDFromDB(ctx, tx, id)
}

// GetByUsername always reads the database. The login path needs the
// current password hash and role, so it must not see a stale entry.
func (r *MySQLUserRepository) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	query := "SELECT " + userColumns + " FROM users WHERE username = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, username)
	return scanUser(row)
}

func (r *MySQLUserRepository) IncrementSubmitCount(ctx context.Context, tx db.Transaction, userID int64) error {
	return r.incrementCounter(ctx, tx, userID, "submit_count")
}

func (r *MySQLUserRepository) IncrementResolveCount(ctx context.Context, tx db.Transaction, userID int64) error {
	return r.incrementCounter(ctx, tx, userID, "resolve_count")
}

func (r *MySQLUserRepository) incrementCounter(ctx context.Context, tx db.Transaction, userID int64, column string) error {
	if userID <= 0 {
		return errors.New("userID is required")
	}
	query := "UPDATE users SET " + column + " = " + column + " + 1 WHERE id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, userInfoKey(userID))
	}
	return nil
}

func (r *MySQLUserRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, id)
	return scanUser(row)
}

func scanUser(row db.Row) (*User, error) {
	user := &User{}
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.JoinTime,
		&user.SubmitCount,
		&user.ResolveCount,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func userInfoKey(id int64) string {
	return userInfoKeyPrefix + strconv.FormatInt(id, 10)
}

func marshalUser(user *User) string {
	if user == nil {
		return ""
	}
	data, err := json.Marshal(user)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalUser(data string) (*User, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

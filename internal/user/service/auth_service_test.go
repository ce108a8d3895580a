package service

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"minoj/internal/common/db"
	"minoj/internal/user/repository"
	pkgerrors "minoj/pkg/errors"
)

type fakeUserRepo struct {
	byName map[string]*repository.User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byName: make(map[string]*repository.User), nextID: 1}
}

func (f *fakeUserRepo) seed(t *testing.T, username, password string, role repository.UserRole) *repository.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &repository.User{
		ID:           f.nextID,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}
	f.nextID++
	f.byName[username] = user
	return user
}

func (f *fakeUserRepo) Create(ctx context.Context, tx db.Transaction, user *repository.User) (int64, error) {
	if _, ok := f.byName[user.Username]; ok {
		return 0, repository.ErrUsernameExists
	}
	user.ID = f.nextID
	f.nextID++
	f.byName[user.Username] = user
	return user.ID, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, tx db.Transaction, id int64) (*repository.User, error) {
	for _, user := range f.byName {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*repository.User, error) {
	user, ok := f.byName[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) IncrementSubmitCount(ctx context.Context, tx db.Transaction, userID int64) error {
	return nil
}

func (f *fakeUserRepo) IncrementResolveCount(ctx context.Context, tx db.Transaction, userID int64) error {
	return nil
}

func newTestAuthService(t *testing.T, users repository.UserRepository) *AuthService {
	t.Helper()
	svc, err := NewAuthService(users, nil, AuthServiceConfig{
		JWTSecret: []byte("test-secret"),
	})
	if err != nil {
		t.Fatalf("create auth service: %v", err)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	ctx := context.Background()

	result, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret1234"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.Token == "" {
		t.Fatal("register must issue a token")
	}
	if result.User.Role != repository.UserRoleUser {
		t.Fatalf("new user role = %q, want %q", result.User.Role, repository.UserRoleUser)
	}

	login, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "secret1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if login.User.ID != result.User.ID {
		t.Fatalf("login user id = %d, want %d", login.User.ID, result.User.ID)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(t, "alice", "secret1234", repository.UserRoleUser)
	svc := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "secret1234"})
	if got := pkgerrors.GetCode(err); got != pkgerrors.UsernameAlreadyExists {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.UsernameAlreadyExists)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		password string
		want     pkgerrors.ErrorCode
	}{
		{"short username", "ab", "secret1234", pkgerrors.InvalidUsername},
		{"leading digit", "1alice", "secret1234", pkgerrors.InvalidUsername},
		{"short password", "alice", "abc1", pkgerrors.PasswordTooWeak},
		{"no digit", "alice", "abcdefghij", pkgerrors.PasswordTooWeak},
		{"non ascii password", "alice", "pass word1234", pkgerrors.InvalidPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, RegisterInput{Username: tc.username, Password: tc.password})
			if got := pkgerrors.GetCode(err); got != tc.want {
				t.Fatalf("error code = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(t, "alice", "secret1234", repository.UserRoleUser)
	svc := newTestAuthService(t, repo)

	_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "wrongpass1"})
	if got := pkgerrors.GetCode(err); got != pkgerrors.InvalidCredentials {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.InvalidCredentials)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	_, err := svc.Login(context.Background(), LoginInput{Username: "nobody", Password: "secret1234"})
	if got := pkgerrors.GetCode(err); got != pkgerrors.InvalidCredentials {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.InvalidCredentials)
	}
}

func TestLoginBannedAccount(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(t, "alice", "secret1234", repository.UserRoleBanned)
	svc := newTestAuthService(t, repo)

	_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret1234"})
	if got := pkgerrors.GetCode(err); got != pkgerrors.AccountSuspended {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.AccountSuspended)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	repo := newFakeUserRepo()
	user := repo.seed(t, "alice", "secret1234", repository.UserRoleAdmin)
	svc := newTestAuthService(t, repo)

	result, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	claims, err := svc.ParseToken(result.Token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("user id = %d, want %d", claims.UserID, user.ID)
	}
	if claims.Username != "alice" {
		t.Fatalf("username = %q, want %q", claims.Username, "alice")
	}
	if claims.Role != repository.UserRoleAdmin {
		t.Fatalf("role = %q, want %q", claims.Role, repository.UserRoleAdmin)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(t, "alice", "secret1234", repository.UserRoleUser)
	svc := newTestAuthService(t, repo)
	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

	result, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	_, err = svc.ParseToken(result.Token)
	if got := pkgerrors.GetCode(err); got != pkgerrors.TokenExpired {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.TokenExpired)
	}
}

func TestParseTokenRejectsForgedSignature(t *testing.T) {
	repo := newFakeUserRepo()
	repo.seed(t, "alice", "secret1234", repository.UserRoleUser)
	svc := newTestAuthService(t, repo)

	other, err := NewAuthService(repo, nil, AuthServiceConfig{JWTSecret: []byte("other-secret")})
	if err != nil {
		t.Fatalf("create auth service: %v", err)
	}
	result, err := other.Login(context.Background(), LoginInput{Username: "alice", Password: "secret1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	_, err = svc.ParseToken(result.Token)
	if got := pkgerrors.GetCode(err); got != pkgerrors.TokenInvalid {
		t.Fatalf("error code = %d, want %d", got, pkgerrors.TokenInvalid)
	}
}

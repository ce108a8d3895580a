package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"minoj/internal/common/cache"
	"minoj/internal/user/repository"
	pkgerrors "minoj/pkg/errors"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultLoginFailTTL = 15 * time.Minute
	defaultLoginFailMax = 5
	loginFailKeyPrefix  = "user:login_fail:"
)

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	JWTSecret      []byte
	JWTIssuer      string
	TokenTTL       time.Duration
	LoginFailTTL   time.Duration
	LoginFailLimit int64
}

// AuthService handles registration, login and token validation.
// Tokens are stateless JWTs; there is no server-side session store.
type AuthService struct {
	users          repository.UserRepository
	loginFailCache cache.BasicOps
	config         AuthServiceConfig
	now            func() time.Time
}

// NewAuthService creates a new AuthService. loginFailCache is optional;
// without it the login failure throttle is disabled.
func NewAuthService(users repository.UserRepository, loginFailCache cache.BasicOps, cfg AuthServiceConfig) (*AuthService, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "minoj"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.LoginFailTTL == 0 {
		cfg.LoginFailTTL = defaultLoginFailTTL
	}
	if cfg.LoginFailLimit == 0 {
		cfg.LoginFailLimit = defaultLoginFailMax
	}
	return &AuthService{
		users:          users,
		loginFailCache: loginFailCache,
		config:         cfg,
		now:            time.Now,
	}, nil
}

// RegisterInput represents input for user registration.
type RegisterInput struct {
	Username string
	Password string
}

// LoginInput represents input for user login.
type LoginInput struct {
	Username string
	Password string
	IP       string
}

// UserInfo represents basic user info for auth responses.
type UserInfo struct {
	ID       int64
	Username string
	Role     repository.UserRole
}

// AuthResult represents the result of auth operations.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      UserInfo
}

// TokenClaims is the validated identity carried by a JWT.
type TokenClaims struct {
	UserID   int64
	Username string
	Role     repository.UserRole
}

type jwtClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Register creates a new user and issues a token.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}

	user := &repository.User{
		Username:     input.Username,
		PasswordHash: string(passwordHash),
		Role:         repository.UserRoleUser,
	}
	if _, err := s.users.Create(ctx, nil, user); err != nil {
		if stderrors.Is(err, repository.ErrUsernameExists) {
			return AuthResult{}, pkgerrors.New(pkgerrors.UsernameAlreadyExists)
		}
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("create user failed: %w", err), pkgerrors.DatabaseError)
	}

	return s.issueToken(user)
}

// Login verifies credentials and issues a token. Banned accounts are
// rejected even with the correct password.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validateLoginPassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	if err := s.checkLoginLimit(ctx, input.Username, input.IP); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByUsername(ctx, nil, input.Username)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			s.recordLoginFailure(ctx, input.Username, input.IP)
			return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
		}
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, input.Username, input.IP)
		return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
	}

	if user.Role == repository.UserRoleBanned {
		return AuthResult{}, pkgerrors.New(pkgerrors.AccountSuspended)
	}

	s.clearLoginFailure(ctx, input.Username, input.IP)
	return s.issueToken(user)
}

// ParseToken validates signature, issuer and expiry, and returns the
// identity the token carries.
func (s *AuthService) ParseToken(tokenString string) (TokenClaims, error) {
	if tokenString == "" {
		return TokenClaims{}, pkgerrors.New(pkgerrors.Unauthorized)
	}

	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.config.JWTSecret, nil
	}, jwt.WithIssuer(s.config.JWTIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return TokenClaims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !token.Valid {
		return TokenClaims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return TokenClaims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return TokenClaims{
		UserID:   userID,
		Username: claims.Username,
		Role:     repository.UserRole(claims.Role),
	}, nil
}

func (s *AuthService) issueToken(user *repository.User) (AuthResult, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)

	claims := jwtClaims{
		Username: user.Username,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.config.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("sign token failed: %w", err), pkgerrors.InternalServerError)
	}

	return AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Role:     user.Role,
		},
	}, nil
}

func (s *AuthService) checkLoginLimit(ctx context.Context, username, ip string) error {
	if s.loginFailCache == nil {
		return nil
	}
	raw, err := s.loginFailCache.Get(ctx, loginFailKey(username, ip))
	if err != nil || raw == "" {
		return nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	if count >= s.config.LoginFailLimit {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage("too many failed login attempts, please try again later")
	}
	return nil
}

// recordLoginFailure is best-effort; a cache outage must not block login.
func (s *AuthService) recordLoginFailure(ctx context.Context, username, ip string) {
	if s.loginFailCache == nil {
		return
	}
	key := loginFailKey(username, ip)
	if _, err := s.loginFailCache.Incr(ctx, key); err != nil {
		return
	}
	_ = s.loginFailCache.Expire(ctx, key, s.config.LoginFailTTL)
}

func (s *AuthService) clearLoginFailure(ctx context.Context, username, ip string) {
	if s.loginFailCache == nil {
		return
	}
	_ = s.loginFailCache.Del(ctx, loginFailKey(username, ip))
}

func loginFailKey(username, ip string) string {
	return loginFailKeyPrefix + username + ":" + ip
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ndrozdov/storefront/internal/hash"
	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/models"
	"github.com/ndrozdov/storefront/internal/tokens"
)

var (
	ErrValidation         = errors.New("validation")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

const (
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

type Repo interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	CheckRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

type Service struct {
	Repo          Repo
	JWTSecret     []byte
	RefreshSecret []byte
}

type LoginResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required: %w", ErrValidation)
	}

	if _, err := s.Repo.UserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		l.Error("register_error", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := models.User{Email: email, PasswordHash: pwHash}
	if err := s.Repo.CreateUser(ctx, &user); err != nil {
		return nil, err
	}

	l.Info("user_registered", "user_id", user.ID)
	return &user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required: %w", ErrValidation)
	}

	user, err := s.Repo.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "reason", "password mismatch")
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, user)
}

// Refresh rotates both tokens when the presented refresh token is valid,
// revoking it so each refresh token is usable once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := tokens.RefreshClaimsFromToken(refreshToken, s.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefresh, err)
	}

	ok, err := s.Repo.CheckRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("token revoked or expired: %w", ErrInvalidRefresh)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidRefresh)
	}
	user, err := s.Repo.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidRefresh)
	}

	if err := s.Repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, user)
}

// Logout revokes the refresh token; an empty token is a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.Repo.RevokeRefreshToken(ctx, refreshToken)
}

// Session resolves the current user by ID.
func (s *Service) Session(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.Repo.UserByID(ctx, userID)
}

func (s *Service) issueTokens(ctx context.Context, user *models.User) (*LoginResult, error) {
	accessExp := time.Now().Add(AccessTTL)
	accessToken, err := tokens.SignAccessToken(user.ID.String(), accessExp, s.JWTSecret)
	if err != nil {
		return nil, err
	}

	refreshExp := time.Now().Add(RefreshTTL)
	refreshToken, err := tokens.SignRefreshToken(user.ID.String(), refreshExp, s.RefreshSecret)
	if err != nil {
		return nil, err
	}

	stored := models.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: refreshExp,
	}
	if err := s.Repo.SaveRefreshToken(ctx, &stored); err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

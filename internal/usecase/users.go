package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/mediscan/internal/logging"
	"github.com/example/mediscan/internal/repository"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidEmail is returned when the email is empty or malformed.
	ErrInvalidEmail = errors.New("invalid email")
)

// UserRepository defines the account persistence operations.
type UserRepository interface {
	CreateUser(ctx context.Context, u *repository.User) error
	FindUserByEmail(ctx context.Context, email string) (*repository.User, error)
	FindUserByID(ctx context.Context, id uint) (*repository.User, error)
}

// TokenIssuer signs access tokens for a user subject.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// RegisterRequest describes a registration attempt.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// LoginResult is a verified user with a signed access token.
type LoginResult struct {
	User      *repository.User
	Token     string
	ExpiresAt time.Time
}

// UserUseCase handles account registration and login.
type UserUseCase struct {
	repo   UserRepository
	tokens TokenIssuer
	logger *zap.Logger
	cost   int
}

// NewUserUseCase constructs a new user use case.
func NewUserUseCase(repo UserRepository, tokens TokenIssuer, logger *zap.Logger) *UserUseCase {
	return &UserUseCase{
		repo:   repo,
		tokens: tokens,
		logger: logger.Named("user_usecase"),
		cost:   bcrypt.DefaultCost,
	}
}

// Register returns the existing user for the email or creates a new one.
func (uc *UserUseCase) Register(ctx context.Context, req RegisterRequest) (*repository.User, bool, error) {
	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, false, ErrInvalidEmail
	}

	existing, err := uc.repo.FindUserByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, logging.NewOperationError("usecase.register", "", err)
	}

	user := &repository.User{
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: time.Now().UTC(),
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), uc.cost)
		if err != nil {
			return nil, false, logging.NewOperationError("usecase.hash_password", "", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := uc.repo.CreateUser(ctx, user); err != nil {
		return nil, false, logging.NewOperationError("usecase.register", "", err)
	}

	uc.logger.Info("user registered", zap.Uint("user_id", user.ID))
	return user, true, nil
}

// Login verifies the password and issues an access token.
func (uc *UserUseCase) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := uc.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, logging.NewOperationError("usecase.login", "", err)
	}

	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := uc.tokens.Issue(uintToString(user.ID))
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", "", err)
	}

	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// GetUser looks a user up by identifier.
func (uc *UserUseCase) GetUser(ctx context.Context, id uint) (*repository.User, error) {
	return uc.repo.FindUserByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

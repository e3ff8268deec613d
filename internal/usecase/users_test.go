package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/mediscan/internal/repository"
)

type stubUserRepository struct {
	users     map[string]*repository.User
	createErr error
	findErr   error
	creates   int
}

func newStubUserRepository() *stubUserRepository {
	return &stubUserRepository{users: map[string]*repository.User{}}
}

func (s *stubUserRepository) CreateUser(ctx context.Context, u *repository.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.creates++
	u.ID = uint(len(s.users) + 1)
	s.users[u.Email] = u
	return nil
}

func (s *stubUserRepository) FindUserByEmail(ctx context.Context, email string) (*repository.User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if u, ok := s.users[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserRepository) FindUserByID(ctx context.Context, id uint) (*repository.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

type stubIssuer struct {
	subject string
}

func (s *stubIssuer) Issue(subject string) (string, time.Time, error) {
	s.subject = subject
	return "token-" + subject, time.Unix(0, 0), nil
}

func newTestUserUseCase(repo UserRepository, issuer TokenIssuer) *UserUseCase {
	uc := NewUserUseCase(repo, issuer, zap.NewNop())
	uc.cost = bcrypt.MinCost
	return uc
}

func TestRegisterIsGetOrCreate(t *testing.T) {
	repo := newStubUserRepository()
	uc := newTestUserUseCase(repo, &stubIssuer{})

	first, created, err := uc.Register(context.Background(), RegisterRequest{Email: " Ana@Example.com ", Name: "Ana", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected user to be created")
	}
	if first.Email != "ana@example.com" {
		t.Fatalf("expected normalized email, got %q", first.Email)
	}
	if first.PasswordHash == "" || first.PasswordHash == "secret" {
		t.Fatal("expected password to be stored as a hash")
	}

	second, created, err := uc.Register(context.Background(), RegisterRequest{Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || second.ID != first.ID || repo.creates != 1 {
		t.Fatalf("expected existing user to be returned, created=%v creates=%d", created, repo.creates)
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	uc := newTestUserUseCase(newStubUserRepository(), &stubIssuer{})

	for _, email := range []string{"", "no-at-sign", "@example.com", "user@"} {
		if _, _, err := uc.Register(context.Background(), RegisterRequest{Email: email}); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestRegisterWrapsRepositoryFailure(t *testing.T) {
	repo := newStubUserRepository()
	repo.findErr = errors.New("db down")
	uc := newTestUserUseCase(repo, &stubIssuer{})

	if _, _, err := uc.Register(context.Background(), RegisterRequest{Email: "a@b.c"}); err == nil || errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	repo := newStubUserRepository()
	issuer := &stubIssuer{}
	uc := newTestUserUseCase(repo, issuer)

	user, _, err := uc.Register(context.Background(), RegisterRequest{Email: "bo@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := uc.Login(context.Background(), "BO@example.com", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.User.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, result.User.ID)
	}
	if result.Token != "token-1" || issuer.subject != "1" {
		t.Fatalf("unexpected token %q for subject %q", result.Token, issuer.subject)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newStubUserRepository()
	uc := newTestUserUseCase(repo, &stubIssuer{})

	if _, _, err := uc.Register(context.Background(), RegisterRequest{Email: "cy@example.com", Password: "right"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, _, err := uc.Register(context.Background(), RegisterRequest{Email: "nopass@example.com"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	cases := []struct{ email, password string }{
		{"cy@example.com", "wrong"},
		{"missing@example.com", "right"},
		{"nopass@example.com", ""},
	}
	for _, tc := range cases {
		if _, err := uc.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.email, err)
		}
	}
}

func TestGetUser(t *testing.T) {
	repo := newStubUserRepository()
	uc := newTestUserUseCase(repo, &stubIssuer{})

	created, _, err := uc.Register(context.Background(), RegisterRequest{Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := uc.GetUser(context.Background(), created.ID)
	if err != nil || found.Email != "ana@example.com" {
		t.Fatalf("expected registered user, got %+v (%v)", found, err)
	}
	if _, err := uc.GetUser(context.Background(), created.ID+1); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
)

// fakeUserRepository is a map-backed UserRepository. Set the *Err fields to force failures.
type fakeUserRepository struct {
	mu        sync.Mutex
	users     map[string]*models.User
	GetErr    error
	CreateErr error
	UpdateErr error
}

func newFakeUserRepository(users ...*models.User) *fakeUserRepository {
	r := &fakeUserRepository{users: make(map[string]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeUserRepository) List(_ context.Context, limit, offset int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	if offset >= len(out) {
		return []*models.User{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeUserRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, models.ErrConflict
		}
	}
	clone := *user
	clone.ID = uuid.New().String()
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	r.users[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (r *fakeUserRepository) Update(_ context.Context, id string, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return nil, r.UpdateErr
	}
	if _, ok := r.users[id]; !ok {
		return nil, models.ErrNotFound
	}
	clone := *user
	clone.UpdatedAt = time.Now()
	r.users[id] = &clone
	out := clone
	return &out, nil
}

// sentEmail is one captured verification email
type sentEmail struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

// MockEmailSender records every email instead of sending it
type MockEmailSender struct {
	mu   sync.Mutex
	Sent []sentEmail
	Err  error
}

func (m *MockEmailSender) SendVerificationEmail(_ context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentEmail{Email: email, Token: token, ExpiresAt: expiresAt})
	return nil
}

func (m *MockEmailSender) Last() (sentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return sentEmail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

func (m *MockEmailSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func newTestUser(id, email string, role models.Role) *models.User {
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          "Test User",
		EmailVerified: true,
		Role:          role,
		Permissions:   models.DefaultPermissions(role),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

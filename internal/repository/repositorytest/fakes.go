// Package repositorytest provides in-memory repository implementations shared
// by service and handler tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/repository"
)

// FakeUserRepository is a map-backed UserRepository.
type FakeUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

// NewFakeUserRepository returns an empty fake.
func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{users: make(map[string]domain.User)}
}

// Seed inserts a user directly, bypassing uniqueness checks.
func (f *FakeUserRepository) Seed(user domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	f.users[user.ID] = user
}

func (f *FakeUserRepository) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateKey
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = *user
	return nil
}

func (f *FakeUserRepository) Update(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	user.UpdatedAt = time.Now()
	f.users[user.ID] = *user
	return nil
}

func (f *FakeUserRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.users, id)
	return nil
}

func (f *FakeUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (f *FakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *FakeUserRepository) List(_ context.Context, limit, offset int) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]domain.User, 0, len(f.users))
	for _, user := range f.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, limit, 50, offset), nil
}

func (f *FakeUserRepository) CountAll(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.users)), nil
}

func (f *FakeUserRepository) CountCreatedSince(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, user := range f.users {
		if !user.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// FakeLicenseRepository is a map-backed LicenseRepository. WithinTx serializes
// on the repository mutex held per call, which is enough to exercise the
// transactional call shape in tests.
type FakeLicenseRepository struct {
	mu       sync.Mutex
	licenses map[string]domain.License
	users    *FakeUserRepository
}

// NewFakeLicenseRepository returns an empty fake; users is used to join
// holders in ListWithHolder and may be nil.
func NewFakeLicenseRepository(users *FakeUserRepository) *FakeLicenseRepository {
	return &FakeLicenseRepository{licenses: make(map[string]domain.License), users: users}
}

// Seed inserts a license directly, bypassing uniqueness checks.
func (f *FakeLicenseRepository) Seed(license domain.License) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if license.ID == "" {
		license.ID = uuid.NewString()
	}
	f.licenses[license.ID] = license
}

func (f *FakeLicenseRepository) Create(_ context.Context, license *domain.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.licenses {
		if existing.Key == license.Key {
			return repository.ErrDuplicateKey
		}
	}
	license.ID = uuid.NewString()
	license.CreatedAt = time.Now()
	license.UpdatedAt = license.CreatedAt
	f.licenses[license.ID] = *license
	return nil
}

func (f *FakeLicenseRepository) Update(_ context.Context, license *domain.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.licenses[license.ID]; !ok {
		return pgx.ErrNoRows
	}
	license.UpdatedAt = time.Now()
	f.licenses[license.ID] = *license
	return nil
}

func (f *FakeLicenseRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.licenses[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.licenses, id)
	return nil
}

func (f *FakeLicenseRepository) GetByID(_ context.Context, id string) (*domain.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	license, ok := f.licenses[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &license, nil
}

func (f *FakeLicenseRepository) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getByKeyLocked(key)
}

func (f *FakeLicenseRepository) GetByKeyForUpdate(ctx context.Context, key string) (*domain.License, error) {
	return f.GetByKey(ctx, key)
}

func (f *FakeLicenseRepository) getByKeyLocked(key string) (*domain.License, error) {
	for _, license := range f.licenses {
		if license.Key == key {
			l := license
			return &l, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *FakeLicenseRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.License
	for _, license := range f.licenses {
		if license.UserID == userID {
			result = append(result, license)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, limit, 50, offset), nil
}

func (f *FakeLicenseRepository) ListWithHolder(ctx context.Context, limit, offset int) ([]repository.LicenseWithHolder, error) {
	f.mu.Lock()
	licenses := make([]domain.License, 0, len(f.licenses))
	for _, license := range f.licenses {
		licenses = append(licenses, license)
	}
	f.mu.Unlock()

	sort.Slice(licenses, func(i, j int) bool { return licenses[i].CreatedAt.After(licenses[j].CreatedAt) })
	licenses = paginate(licenses, limit, 100, offset)

	result := make([]repository.LicenseWithHolder, 0, len(licenses))
	for _, license := range licenses {
		item := repository.LicenseWithHolder{License: license}
		if f.users != nil {
			if holder, err := f.users.GetByID(ctx, license.UserID); err == nil {
				item.HolderName = holder.Name
				item.HolderEmail = holder.Email
			}
		}
		result = append(result, item)
	}
	return result, nil
}

func (f *FakeLicenseRepository) CountAll(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.licenses)), nil
}

func (f *FakeLicenseRepository) CountByStatus(_ context.Context, status domain.LicenseStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, license := range f.licenses {
		if license.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *FakeLicenseRepository) CountExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, license := range f.licenses {
		if license.Status == domain.LicenseStatusExpired || now.After(license.ExpirationDate) {
			count++
		}
	}
	return count, nil
}

func (f *FakeLicenseRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, license := range f.licenses {
		if license.Status == domain.LicenseStatusExpired || now.After(license.ExpirationDate) {
			delete(f.licenses, id)
			count++
		}
	}
	return count, nil
}

// WithinTx mirrors the rollback contract of the pgx implementation: writes
// made by fn are discarded when it returns an error.
func (f *FakeLicenseRepository) WithinTx(_ context.Context, fn func(repository.LicenseRepository) error) error {
	f.mu.Lock()
	snapshot := make(map[string]domain.License, len(f.licenses))
	for id, license := range f.licenses {
		snapshot[id] = license
	}
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.licenses = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

// FakeSessionRepository is a map-backed SessionRepository.
type FakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

// NewFakeSessionRepository returns an empty fake.
func NewFakeSessionRepository() *FakeSessionRepository {
	return &FakeSessionRepository{sessions: make(map[string]domain.Session)}
}

// Seed inserts a session directly.
func (f *FakeSessionRepository) Seed(session domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	f.sessions[session.ID] = session
}

func (f *FakeSessionRepository) Create(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = uuid.NewString()
	session.CreatedAt = time.Now()
	f.sessions[session.ID] = *session
	return nil
}

func (f *FakeSessionRepository) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.Token == token {
			s := session
			return &s, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *FakeSessionRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.sessions, id)
	return nil
}

func (f *FakeSessionRepository) DeleteByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.sessions {
		if session.Token == token {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *FakeSessionRepository) List(_ context.Context, limit, offset int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]domain.Session, 0, len(f.sessions))
	for _, session := range f.sessions {
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, limit, 50, offset), nil
}

func (f *FakeSessionRepository) CountAll(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sessions)), nil
}

func (f *FakeSessionRepository) CountActive(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, session := range f.sessions {
		if session.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (f *FakeSessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, session := range f.sessions {
		if now.After(session.ExpiresAt) {
			delete(f.sessions, id)
			count++
		}
	}
	return count, nil
}

// paginate applies the same limit defaulting the SQL repositories do: a
// non-positive limit falls back to defaultLimit rather than meaning unlimited.
func paginate[T any](items []T, limit, defaultLimit, offset int) []T {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

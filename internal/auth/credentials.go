// credentials.go -- Admin credential checks and password changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MGallo-Code/herald/internal/store"
	"github.com/gofrs/uuid/v5"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is the subset of *store.PostgresStore the auth package needs.
type UserStore interface {
	CreateUser(ctx context.Context, id uuid.UUID, username, passwordHash string) error
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// Credentials is a submitted username/password pair.
type Credentials struct {
	Username string
	Password string
}

// dummyPasswordHash is hashed once at first use. Unknown usernames verify
// against it so both paths cost one Argon2id run.
var dummyPasswordHash = sync.OnceValue(func() string {
	h, err := HashPassword("herald-dummy-password")
	if err != nil {
		panic(fmt.Sprintf("hashing dummy password: %v", err))
	}
	return h
})

// ValidateCredentials returns the user id for a matching username and password.
func ValidateCredentials(ctx context.Context, users UserStore, creds Credentials) (uuid.UUID, error) {
	hash := dummyPasswordHash()
	var userID uuid.UUID

	u, err := users.GetUserByUsername(ctx, creds.Username)
	switch {
	case err == nil:
		hash = u.PasswordHash
		userID = u.ID
	case errors.Is(err, store.ErrNotFound):
	default:
		return uuid.Nil, fmt.Errorf("fetching stored credentials: %w", err)
	}

	ok, err := VerifyPassword(creds.Password, hash)
	if err != nil {
		return uuid.Nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || userID == uuid.Nil {
		return uuid.Nil, ErrInvalidCredentials
	}
	return userID, nil
}

// ChangePassword stores a fresh hash of newPassword for userID.
func ChangePassword(ctx context.Context, users UserStore, userID uuid.UUID, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("changing password: %w", err)
	}
	return nil
}

// EnsureAdmin creates username with password unless the username is taken.
// Used at startup to seed the first admin.
func EnsureAdmin(ctx context.Context, users UserStore, username, password string) error {
	_, err := users.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for admin %q: %w", username, err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating user id: %w", err)
	}
	if err := users.CreateUser(ctx, id, username, hash); err != nil {
		return err
	}
	slog.Info("admin user created", "username", username, "user_id", id)
	return nil
}

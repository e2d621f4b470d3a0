package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/timekeeper/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt password hashing.
const BcryptCost = 12

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled is returned when an inactive account tries to log in.
	ErrAccountDisabled = errors.New("account disabled")
)

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a hash.
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Authenticate checks a username and password. Only active accounts may log
// in. On success the device is recorded as the account's registered device.
func (e *Engine) Authenticate(ctx context.Context, username, password, deviceID string) (*storage.Account, error) {
	account, err := e.store.Accounts().GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	if err := VerifyPassword(password, account.PasswordHash); err != nil {
		e.logger.Warn().Str("username", account.Username).Msg("Failed login attempt")
		return nil, ErrInvalidCredentials
	}
	if !account.Active {
		return nil, ErrAccountDisabled
	}

	if deviceID != "" && account.RegisteredDevice != deviceID {
		account.RegisteredDevice = deviceID
		if err := e.store.Accounts().Upsert(ctx, *account); err != nil {
			return nil, fmt.Errorf("register device: %w", err)
		}
	}

	e.logger.Info().Str("username", account.Username).Str("device_id", deviceID).Msg("Login succeeded")
	return account, nil
}

// CreateAccount adds a new account. Accounts start inactive and must be
// enabled before they can log in.
func (e *Engine) CreateAccount(ctx context.Context, username, password string, role storage.Role) (*storage.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if role == "" {
		role = storage.RoleEmployee
	}
	if role != storage.RoleEmployee && role != storage.RoleAdmin {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	if err := e.store.Accounts().Upsert(ctx, storage.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       false,
	}); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	account, err := e.store.Accounts().GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load created account: %w", err)
	}
	e.logger.Info().Str("username", username).Str("role", string(role)).Msg("Account created")
	return account, nil
}

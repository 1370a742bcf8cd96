package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of generated API keys in bytes (will be hex encoded)
	APIKeyLength = 32
	// BcryptCost is the bcrypt cost factor
	BcryptCost = 12

	// APIKeyHashSetting is the settings key holding the bcrypt hash
	APIKeyHashSetting = "api.key_hash"
)

// SettingsStore is the subset of the database used to persist the key hash
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	DeleteSetting(key string) error
}

// APIKeyService handles the install-wide API key. Only a bcrypt hash is kept
// in the store; the plaintext is shown once when the key is rotated.
type APIKeyService struct {
	store SettingsStore

	// verified caches the sha256 of the last key that passed bcrypt so that
	// every request does not pay the bcrypt cost
	mu       sync.Mutex
	verified []byte
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(store SettingsStore) *APIKeyService {
	return &APIKeyService{store: store}
}

// GenerateAPIKey creates a new cryptographically secure API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey hashes a key using bcrypt
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// Enabled reports whether an API key has been configured
func (s *APIKeyService) Enabled() (bool, error) {
	hash, err := s.store.GetSetting(APIKeyHashSetting)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// Rotate replaces the API key and returns the new plaintext key
func (s *APIKeyService) Rotate() (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSetting(APIKeyHashSetting, hash); err != nil {
		return "", err
	}
	s.resetCache()
	return key, nil
}

// Clear removes the API key, disabling authentication
func (s *APIKeyService) Clear() error {
	if err := s.store.DeleteSetting(APIKeyHashSetting); err != nil {
		return err
	}
	s.resetCache()
	return nil
}

// Validate checks key against the stored hash. With no key configured every
// request is allowed.
func (s *APIKeyService) Validate(key string) (bool, error) {
	hash, err := s.store.GetSetting(APIKeyHashSetting)
	if err != nil {
		return false, fmt.Errorf("failed to load api key: %w", err)
	}
	if hash == "" {
		return true, nil
	}
	if key == "" {
		return false, nil
	}

	sum := sha256.Sum256([]byte(hash + "\x00" + key))

	s.mu.Lock()
	cached := s.verified
	s.mu.Unlock()
	if cached != nil && subtle.ConstantTimeCompare(cached, sum[:]) == 1 {
		return true, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return false, nil
	}

	s.mu.Lock()
	s.verified = sum[:]
	s.mu.Unlock()
	return true, nil
}

func (s *APIKeyService) resetCache() {
	s.mu.Lock()
	s.verified = nil
	s.mu.Unlock()
}

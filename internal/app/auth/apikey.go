package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// APIKey is the single key a user may authenticate with.
type APIKey struct {
	UserID int64  `json:"user_id"`
	Key    string `json:"key"`
}

// KeyStore persists API keys, one per user.
type KeyStore interface {
	GetAPIKey(ctx context.Context, userID int64) (APIKey, error)
	// SaveAPIKey inserts or replaces the key of key.UserID.
	SaveAPIKey(ctx context.Context, key APIKey) error
	APIKeyExists(ctx context.Context, key string) (bool, error)
}

var altChars = []string{"rA", "aZ", "gQ", "hH", "hG", "aR", "DD"}

// maxKeyAttempts bounds the uniqueness loop in Keys.
const maxKeyAttempts = 16

// GenerateKey returns a fresh random key: 256 random bits hashed with
// sha256, base64 encoded with a random alternate alphabet, padding removed.
func GenerateKey() (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	digest := sha256.Sum256(seed)

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(altChars))))
	if err != nil {
		return "", fmt.Errorf("pick alphabet: %w", err)
	}
	alt := altChars[idx.Int64()]

	encoded := base64.RawStdEncoding.EncodeToString(digest[:])
	return strings.NewReplacer("+", alt[:1], "/", alt[1:]).Replace(encoded), nil
}

// Keys issues API keys backed by a KeyStore.
type Keys struct {
	store    KeyStore
	generate func() (string, error)
}

// NewKeys returns a key manager over store.
func NewKeys(store KeyStore) *Keys {
	return &Keys{store: store, generate: GenerateKey}
}

// Create issues a key for u, replacing any previous one.
func (k *Keys) Create(ctx context.Context, u User) (APIKey, error) {
	if !u.IsAuthenticated() {
		return APIKey{}, fmt.Errorf("api key requires a stored user")
	}
	key, err := k.uniqueKey(ctx)
	if err != nil {
		return APIKey{}, err
	}
	apiKey := APIKey{UserID: u.ID, Key: key}
	if err := k.store.SaveAPIKey(ctx, apiKey); err != nil {
		return APIKey{}, err
	}
	return apiKey, nil
}

// Reset rotates the existing key of u. It fails if u has none.
func (k *Keys) Reset(ctx context.Context, u User) (APIKey, error) {
	if _, err := k.store.GetAPIKey(ctx, u.ID); err != nil {
		return APIKey{}, err
	}
	return k.Create(ctx, u)
}

func (k *Keys) uniqueKey(ctx context.Context) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := k.generate()
		if err != nil {
			return "", err
		}
		exists, err := k.store.APIKeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique api key after %d attempts", maxKeyAttempts)
}

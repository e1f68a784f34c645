// Package auth obtains and stores the Headspace bearer token.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgrijalva/jwt-go"

	"hsdl/internal/storage"
)

const (
	bearerPrefix = "bearer "
	hsIDClaim    = "https://api.prod.headspace.com/hsId"
)

var (
	// ErrNoToken means no bearer token has been stored yet.
	ErrNoToken = errors.New("no bearer token stored: run `hsdl login` first")

	// ErrTruncatedToken means the token was copied from a UI that elided it.
	ErrTruncatedToken = errors.New("bearer token is truncated (contains \"…\"): copy the full value")

	// ErrNoUserID means the token carries no Headspace user id claim.
	ErrNoUserID = errors.New("bearer token has no user id claim")
)

// Claims are the parts of the access token the downloader reads.
type Claims struct {
	HsID string `json:"https://api.prod.headspace.com/hsId"`
	jwt.StandardClaims
}

// NormalizeToken validates a raw token and returns it in the
// "bearer <jwt>" form the API expects.
func NormalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	if strings.Contains(token, "…") {
		return "", ErrTruncatedToken
	}
	if len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = token[len(bearerPrefix):]
	}
	return bearerPrefix + strings.TrimSpace(token), nil
}

// UserID extracts the Headspace user id from the token. The signature is not
// verified; the API does that.
func UserID(token string) (string, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return "", err
	}

	var claims Claims
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(normalized[len(bearerPrefix):], &claims); err != nil {
		return "", fmt.Errorf("parse bearer token: %w", err)
	}
	if claims.HsID == "" {
		return "", ErrNoUserID
	}
	return claims.HsID, nil
}

// FileTokenStore keeps the bearer token in a single file.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store backed by path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// DefaultTokenPath returns <user config dir>/hsdl/bearer_id.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "hsdl", "bearer_id"), nil
}

// Path returns the token file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// Load reads and validates the stored token.
func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return NormalizeToken(string(data))
}

// Save validates token and replaces the stored one.
func (s *FileTokenStore) Save(token string) error {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if err := storage.WriteFile(s.path, []byte(normalized), 0o700, 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Clear removes the stored token. A missing file is not an error.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStorage implements Storage on the local filesystem for development
// and tests. Signed URLs carry an HMAC token so the dev file server can
// verify them the way S3 would; nothing about them is secret-grade.
type LocalStorage struct {
	baseDir string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// LocalOption defines a function that configures LocalStorage.
type LocalOption func(*LocalStorage)

// WithLocalClock overrides the clock used for URL expiry. Useful for tests.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(s *LocalStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLocalStorage creates a local filesystem storage. baseDir is resolved to
// an absolute path and created if missing; baseURL is the prefix the dev
// file server serves baseDir under (e.g. "http://localhost:8080/files/").
func NewLocalStorage(baseDir, baseURL, signingSecret string, opts ...LocalOption) (*LocalStorage, error) {
	if baseDir == "" || signingSecret == "" {
		return nil, ErrInvalidConfig
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve base directory: %v", ErrInvalidConfig, err)
	}

	if err := os.MkdirAll(absBaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	s := &LocalStorage{
		baseDir: absBaseDir,
		baseURL: baseURL,
		secret:  []byte(signingSecret),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// SignedUploadURL implements Storage.
func (s *LocalStorage) SignedUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.signedURL(key, "upload", ttl)
}

// SignedDownloadURL implements Storage.
func (s *LocalStorage) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.signedURL(key, "download", ttl)
}

// Delete implements Storage. Removing a missing object is not an error,
// matching S3 semantics.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// Exists implements Storage.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	return !info.IsDir(), nil
}

// Verify checks a token produced by a signed URL. The dev file server calls
// it before serving or accepting an object.
func (s *LocalStorage) Verify(key, operation string, expires int64, token string) bool {
	if s.now().Unix() > expires {
		return false
	}

	key, err := cleanKey(key)
	if err != nil {
		return false
	}

	expected := s.token(key, operation, expires)
	return hmac.Equal([]byte(expected), []byte(token))
}

func (s *LocalStorage) signedURL(key, operation string, ttl time.Duration) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("op", operation)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("token", s.token(key, operation, expires))

	return s.baseURL + key + "?" + q.Encode(), nil
}

func (s *LocalStorage) token(key, operation string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", operation, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps an object key onto the base directory, rejecting traversal.
func (s *LocalStorage) resolve(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	return path, nil
}

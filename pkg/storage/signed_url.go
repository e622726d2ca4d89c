package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadSigner mints and verifies expiring download tokens for archived
// exports. A token is `<base64 filename>.<unix expiry>.<hmac>` so the
// download endpoint needs no database lookup.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewDownloadSigner constructs a signer. A non-positive ttl falls back to
// one hour.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a token granting download access to filename until expiry.
func (s *DownloadSigner) Sign(filename string) (string, time.Time, error) {
	if filename == "" {
		return "", time.Time{}, fmt.Errorf("filename required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(filename))
	stamp := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{encoded, stamp, s.digest(encoded, stamp)}, ".")
	return token, expiresAt, nil
}

// Verify checks the token signature and expiry and returns the filename.
func (s *DownloadSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed download token")
	}
	encoded, stamp, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(s.digest(encoded, stamp)), []byte(signature)) {
		return "", fmt.Errorf("invalid download token signature")
	}

	expUnix, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid download token expiry")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("download token expired")
	}

	filename, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode download token: %w", err)
	}
	return string(filename), nil
}

func (s *DownloadSigner) digest(encoded, stamp string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded + "|" + stamp))
	return hex.EncodeToString(mac.Sum(nil))
}

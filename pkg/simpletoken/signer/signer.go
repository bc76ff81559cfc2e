package signer

import (
	"bytes"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
)

// Signer computes provider-compatible HMAC signatures. It holds no mutable
// state and is safe for concurrent use.
type Signer struct {
	secretKey   []byte
	accessKeyID string
	newHash     func() hash.Hash
}

// New creates a Signer from cfg.
func New(cfg Config) (*Signer, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNoSecretKey
	}
	h, err := hashFunc(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	return &Signer{
		secretKey:   []byte(cfg.SecretKey),
		accessKeyID: cfg.AccessKeyID,
		newHash:     h,
	}, nil
}

// AccessKeyID returns the public access key identifier bound to this signer.
func (s *Signer) AccessKeyID() string {
	return s.accessKeyID
}

// Sign returns the raw HMAC digest of message.
func (s *Signer) Sign(message string) []byte {
	mac := hmac.New(s.newHash, s.secretKey)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// SignEncoded returns EncodeURLSafe(Sign(message)).
func (s *Signer) SignEncoded(message string) string {
	return EncodeURLSafe(s.Sign(message))
}

// EncodeURLSafe encodes b with the URL-safe base64 alphabet and strips the
// trailing '=' padding.
func EncodeURLSafe(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// UploadPolicyToken builds "<encodedPolicy>:<encodedSignature>" for an upload
// into bucket. key is optional; when set the policy scope is "bucket:key".
// extra fields are merged into the policy but never override scope or
// deadline. Identical inputs always yield the identical token.
func (s *Signer) UploadPolicyToken(bucket, key string, deadline int64, extra map[string]any) (string, error) {
	policy, err := CanonicalPolicy(bucket, key, deadline, extra)
	if err != nil {
		return "", err
	}
	encodedPolicy := EncodeURLSafe(policy)
	return encodedPolicy + ":" + s.SignEncoded(encodedPolicy), nil
}

// CanonicalPolicy serializes the upload policy as compact JSON with sorted
// keys and without HTML escaping.
func CanonicalPolicy(bucket, key string, deadline int64, extra map[string]any) ([]byte, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidInput)
	}
	policy := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		policy[k] = v
	}
	scope := bucket
	if key != "" {
		scope = bucket + ":" + key
	}
	policy["scope"] = scope
	policy["deadline"] = deadline

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(policy); err != nil {
		return nil, fmt.Errorf("%w: encode policy: %v", ErrInvalidInput, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DownloadURL appends the deadline to originalURL, signs the result and
// appends "&token=<accessKeyID>:<signature>".
//
// Example:
//
//	u, _ := s.DownloadURL("https://cdn.example/obj.png", 1700003600)
//	// https://cdn.example/obj.png?e=1700003600&token=AK:...
func (s *Signer) DownloadURL(originalURL string, deadline int64) (string, error) {
	u, err := url.Parse(originalURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: url %q must be absolute", ErrInvalidInput, originalURL)
	}

	separator := "?"
	if strings.Contains(originalURL, "?") {
		separator = "&"
	}
	withDeadline := originalURL + separator + "e=" + strconv.FormatInt(deadline, 10)
	return withDeadline + "&token=" + s.accessKeyID + ":" + s.SignEncoded(withDeadline), nil
}

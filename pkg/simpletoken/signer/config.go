package signer

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

// Supported hash algorithm names.
const (
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
	HashSHA512 = "sha512"
)

// DefaultHashAlgorithm is the provider's documented signing scheme.
const DefaultHashAlgorithm = HashSHA1

// Config carries the credentials and algorithm used for signing.
type Config struct {
	SecretKey     string
	AccessKeyID   string
	HashAlgorithm string // defaults to sha1
}

func hashFunc(name string) (func() hash.Hash, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashSHA1:
		return sha1.New, nil
	case HashSHA256:
		return sha256.New, nil
	case HashSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
	}
}

package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/kohaku-project/kohaku/internal/apperr"
)

// charset for generated key material. Deliberately excludes '_', which is the
// structural separator of the key format.
const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&*+-/="

const (
	prefixTag    = "khk_"
	prefixRandom = 6  // random chars after the tag; full prefix is 10 chars
	secretLen    = 31 // full key is 42 chars: prefix + '_' + secret
)

// argon2id parameters for key hashing. Hash comparison is intentionally
// expensive; the prefix index keeps the candidate set small.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// GenerateKey produces a fresh API key and its non-secret prefix. The full
// key has the form `khk_XXXXXX_<31 char secret>`; the prefix is everything
// before the second underscore.
func GenerateKey() (fullKey, prefix string, err error) {
	p, err := randomString(prefixRandom)
	if err != nil {
		return "", "", err
	}
	secret, err := randomString(secretLen)
	if err != nil {
		return "", "", err
	}
	prefix = prefixTag + p
	return prefix + "_" + secret, prefix, nil
}

// SplitKey extracts the prefix from a presented key. The format is
// `khk_XXXXXX_SECRET`: exactly three '_'-separated parts.
func SplitKey(key string) (prefix string, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return "", apperr.Newf(apperr.ValidationError,
			"malformed API key: expected 3 parts, got %d", len(parts))
	}
	return parts[0] + "_" + parts[1], nil
}

func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", apperr.Wrap(apperr.AuthenticationError, "generate key material", err)
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}

// HashKey derives a salted argon2id hash of the key in PHC string form:
// $argon2id$v=19$m=...,t=...,p=...$<b64 salt>$<b64 hash>. The salt is random
// per key, so equal keys produce distinct hashes.
func HashKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.Wrap(apperr.AuthenticationError, "generate salt", err)
	}
	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyKey recomputes the argon2id hash of key under the encoded hash's salt
// and parameters and compares in constant time. Constant-time comparison is a
// security requirement here, not an optimization.
func VerifyKey(key, encoded string) (bool, error) {
	p, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(key), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(got, p.hash) == 1, nil
}

type hashParams struct {
	salt    []byte
	hash    []byte
	memory  uint32
	time    uint32
	threads uint8
}

func parseHash(encoded string) (hashParams, error) {
	var p hashParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, apperr.New(apperr.AuthenticationError, "malformed stored key hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, apperr.New(apperr.AuthenticationError, "unsupported key hash version")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, apperr.Wrap(apperr.AuthenticationError, "malformed key hash parameters", err)
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, apperr.Wrap(apperr.AuthenticationError, "decode key hash salt", err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, apperr.Wrap(apperr.AuthenticationError, "decode key hash", err)
	}
	return p, nil
}

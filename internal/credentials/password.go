package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashMode selects how passwords in the passwd file are compared.
type HashMode string

const (
	HashPlain    HashMode = "plain"
	HashBcrypt   HashMode = "bcrypt"
	HashArgon2id HashMode = "argon2id"
)

// ParseHashMode accepts the configured mode name. Empty means plain.
func ParseHashMode(s string) (HashMode, error) {
	switch HashMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HashPlain:
		return HashPlain, nil
	case HashBcrypt:
		return HashBcrypt, nil
	case HashArgon2id:
		return HashArgon2id, nil
	}
	return "", fmt.Errorf("unknown password hash mode %q", s)
}

// Argon2Params are the argon2id cost settings written into an encoded hash.
// Memory is in KiB; SaltLen and KeyLen are in bytes.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params returns the settings HashPassword uses for new argon2id
// hashes. Verification reads the settings back from the stored hash.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// HashPassword produces a passwd file value for the given mode.
// Plain mode returns the password unchanged.
func HashPassword(mode HashMode, password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	switch mode {
	case HashPlain:
		return password, nil
	case HashBcrypt:
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(h), nil
	case HashArgon2id:
		return hashArgon2id(password, DefaultArgon2Params())
	}
	return "", fmt.Errorf("unknown password hash mode %q", mode)
}

// VerifyPassword compares a candidate password with a stored passwd value.
func VerifyPassword(mode HashMode, password, stored string) bool {
	switch mode {
	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	case HashArgon2id:
		ok, err := verifyArgon2id(password, stored)
		return err == nil && ok
	default:
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
}

// Format: argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func hashArgon2id(password string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		enc.EncodeToString(salt),
		enc.EncodeToString(h),
	), nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}
	p, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

var errBadHash = errors.New("invalid argon2id hash")

func parsePHC(s string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return Argon2Params{}, nil, nil, errBadHash
	}
	ver, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if err != nil || ver != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported version", errBadHash)
	}

	var p Argon2Params
	for _, kv := range strings.Split(parts[2], ",") {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: parameters", errBadHash)
		}
		bits := 32
		if key == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(val, 10, bits)
		if err != nil {
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: %s", errBadHash, key)
		}
		switch key {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			p.Parallelism = uint8(n)
		default:
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: unknown parameter %q", errBadHash, key)
		}
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: salt", errBadHash)
	}
	hash, err := enc.DecodeString(parts[4])
	if err != nil || len(hash) < 16 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: hash", errBadHash)
	}
	return p, salt, hash, nil
}

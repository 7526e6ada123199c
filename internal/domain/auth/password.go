package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash is not Argon2id.
var ErrUnknownHashType = errors.New("unknown hash type")

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword returns an Argon2id hash of password in PHC format:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// timingHash is verified against when no account matches, so that a missing
// account costs as much as a wrong password.
var timingHash = sync.OnceValue(func() string {
	h, err := HashPassword("pharmagate:no-such-account")
	if err != nil {
		return ""
	}
	return h
})

// TimingHash returns a fixed Argon2id hash with the same parameters as
// HashPassword. No password a user can choose is expected to match it.
func TimingHash() string {
	return timingHash()
}

// IsPasswordHash reports whether s looks like an Argon2id PHC string.
func IsPasswordHash(s string) bool {
	return strings.HasPrefix(s, "$argon2id$")
}

// VerifyPassword compares password with a stored Argon2id hash.
// Returns (false, nil) on mismatch and an error for malformed hashes.
func VerifyPassword(password, storedHash string) (bool, error) {
	if !IsPasswordHash(storedHash) {
		return false, ErrUnknownHashType
	}
	return safeArgon2idCompare(password, storedHash)
}

// safeArgon2idCompare converts panics from malformed hash parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}

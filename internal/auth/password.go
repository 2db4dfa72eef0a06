package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. These match the library's documented
// recommended defaults for an interactive login path (§4.5 upgrades
// password hashing from the teacher's SHA-256 scheme to argon2id).
const (
	argonAlgo    = "argon2id"
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// fakeSaltSuffix makes pseudoSalt's enumeration-safe fallback
// deterministic per email without ever touching the users table.
const fakeSaltSuffix = "echopad-fake-salt"

// generateSalt returns a random salt for a new account.
func generateSalt() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// pseudoSalt derives a deterministic, account-independent salt for an
// email that has no registered user, so GET /auth/salt cannot be used
// to enumerate which emails are registered: the response shape for a
// missing account is identical to a real one.
func pseudoSalt(email string) string {
	sum := sha256.Sum256([]byte(email + fakeSaltSuffix))
	return hex.EncodeToString(sum[:saltLen])
}

// hashPassword derives an argon2id digest and returns it encoded with
// its parameters, in the common $argon2id$v=...$m=...,t=...,p=...$salt$hash
// form. The encoded parameters are not parsed back: verifyPassword
// recomputes with the current constants, so a hash stored under other
// parameters does not verify.
func hashPassword(password, salt string) (string, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), saltBytes, argonTime, argonMemory, argonThreads, argonKeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(saltBytes),
		base64.RawStdEncoding.EncodeToString(sum))
	return encoded, nil
}

// verifyPassword recomputes the digest from password+salt and compares
// in constant time against the stored hash.
func verifyPassword(password, salt, storedHash string) bool {
	candidate, err := hashPassword(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Supported hashing algorithms for new passwords. Verification accepts
// both encodings regardless of which one is configured.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmPBKDF2   = "pbkdf2-sha256"
)

// argon2id parameters tuned for a self-hosted application running on
// modest hardware (2-4 CPU cores, 2-4 GB RAM). These follow OWASP
// recommendations for argon2id: memory=64MB, iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// pbkdf2 parameters matching werkzeug's generate_password_hash output:
// pbkdf2:sha256:<iterations>$<salt>$<hex digest>.
const (
	pbkdf2Iterations = 600000
	pbkdf2SaltLen    = 16
	pbkdf2Prefix     = "pbkdf2:sha256"
	saltAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// Hasher produces and verifies salted one-way password encodings.
// It is stateless apart from its parameters and safe for concurrent use.
type Hasher struct {
	algorithm  string
	argon      argonParams
	iterations int
}

// NewHasher creates a hasher that writes new hashes with the given algorithm.
// Unknown algorithms fall back to argon2id.
func NewHasher(algorithm string) *Hasher {
	if algorithm != AlgorithmPBKDF2 {
		algorithm = AlgorithmArgon2id
	}
	return &Hasher{
		algorithm:  algorithm,
		argon:      argonParams{time: argonTime, memory: argonMemory, threads: argonThreads},
		iterations: pbkdf2Iterations,
	}
}

// Algorithm returns the algorithm used for new hashes.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash encodes the password with a fresh random salt. Two calls with the
// same password produce different strings.
func (h *Hasher) Hash(password string) (string, error) {
	if h.algorithm == AlgorithmPBKDF2 {
		return h.hashPBKDF2(password)
	}
	return h.hashArgon2id(password)
}

// Verify checks a plaintext password against an encoded hash. Malformed
// encodings simply fail verification.
func (h *Hasher) Verify(password, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(password, encoded)
	case strings.HasPrefix(encoded, pbkdf2Prefix):
		return verifyPBKDF2(password, encoded)
	default:
		return false
	}
}

// hashArgon2id creates an argon2id hash in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func (h *Hasher) hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := h.argon
	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads, b64Salt, b64Hash), nil
}

func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expectedHash) == 0 {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}

// hashPBKDF2 writes the werkzeug-compatible encoding so hashes created by
// earlier deployments and new ones share a column.
func (h *Hasher) hashPBKDF2(password string) (string, error) {
	salt, err := randomString(pbkdf2SaltLen)
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	dk := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, sha256.Size, sha256.New)
	return fmt.Sprintf("%s:%d$%s$%s", pbkdf2Prefix, h.iterations, salt, hex.EncodeToString(dk)), nil
}

func verifyPBKDF2(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[1] == "" {
		return false
	}

	method := strings.Split(parts[0], ":")
	if len(method) != 3 || method[0] != "pbkdf2" || method[1] != "sha256" {
		return false
	}
	iterations, err := strconv.Atoi(method[2])
	if err != nil || iterations < 1 {
		return false
	}

	expected, err := hex.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}

	dk := pbkdf2.Key([]byte(password), []byte(parts[1]), iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(expected, dk) == 1
}

// randomString returns n characters drawn uniformly from saltAlphabet.
func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(saltAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(saltAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

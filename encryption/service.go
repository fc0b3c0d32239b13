package encryption

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeBcrypt = "bcrypt"
	// SchemeSHA256 stores unsalted hex SHA-256 digests, the format of
	// stores created before bcrypt was introduced.
	SchemeSHA256 = "sha256"
)

// CryptoService hashes passwords and derives vote receipts.
type CryptoService struct {
	scheme string
	cost   int
}

// NewCryptoService returns a service that hashes new passwords with scheme.
// A zero cost selects bcrypt.DefaultCost.
func NewCryptoService(scheme string, cost int) (*CryptoService, error) {
	switch scheme {
	case "":
		scheme = SchemeBcrypt
	case SchemeBcrypt, SchemeSHA256:
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	return &CryptoService{scheme: scheme, cost: cost}, nil
}

func (cs *CryptoService) Scheme() string { return cs.scheme }

// HashPassword returns a one-way hash of password in the configured scheme.
func (cs *CryptoService) HashPassword(password string) (string, error) {
	if cs.scheme == SchemeSHA256 {
		return legacyDigest(password), nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cs.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword accepts bcrypt and legacy SHA-256 hashes regardless of the
// configured scheme.
func (cs *CryptoService) VerifyPassword(hash, password string) bool {
	if isBcrypt(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	want := legacyDigest(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(want)) == 1
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

func legacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Receipt computes the Keccak-256 digest of the given fields, NUL separated,
// as 0x-prefixed hex.
func (cs *CryptoService) Receipt(fields ...string) string {
	parts := make([][]byte, 0, 2*len(fields))
	for i, f := range fields {
		if i > 0 {
			parts = append(parts, []byte{0})
		}
		parts = append(parts, []byte(f))
	}
	return crypto.Keccak256Hash(parts...).Hex()
}

package secrets

import (
	"crypto/rand"
	"math/big"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
)

// DefaultPasswordLength matches the vault CLI's generator settings so both
// storage strategies produce equal-strength credentials.
const DefaultPasswordLength = 24

const (
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"
)

// GeneratePassword returns a random password of the given length containing
// at least one upper-case letter, one lower-case letter, and one digit.
// Lengths below DefaultPasswordLength are bumped up, never down.
func GeneratePassword(length int) (string, error) {
	if length < DefaultPasswordLength {
		length = DefaultPasswordLength
	}

	all := upperChars + lowerChars + digitChars

	// one guaranteed pick per character class, the rest from the full set
	picks := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		picks = append(picks, c)
	}
	for len(picks) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		picks = append(picks, c)
	}

	if err := shuffle(picks); err != nil {
		return "", err
	}
	return string(picks), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, errors.NewInternalError("random source failed", err)
	}
	return set[n.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return errors.NewInternalError("random source failed", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

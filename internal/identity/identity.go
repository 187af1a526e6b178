// Package identity issues the short-lived credentials a peer registers with.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"remotedesk/internal/types"
)

// KeyDigits is the length of the numeric key a user reads out to the other side.
const KeyDigits = 6

// Generate returns a fresh account: a random UUID id and a numeric key.
func Generate() (types.Account, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return types.Account{}, fmt.Errorf("account id: %w", err)
	}
	key, err := numericKey(KeyDigits)
	if err != nil {
		return types.Account{}, fmt.Errorf("account key: %w", err)
	}
	return types.Account{ID: id.String(), Key: key}, nil
}

func numericKey(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

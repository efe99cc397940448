package challenge

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

var nonceSpace = big.NewInt(1_000_000)

// NewNonce draws a nonce uniformly from 000000..999999.
// A nil reader means crypto/rand.
func NewNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, nonceSpace)
	if err != nil {
		return "", fmt.Errorf("challenge: nonce: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

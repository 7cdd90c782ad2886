package accuracy

import (
	"crypto/rand"
	"math/big"
)

const (
	accessCodeLength   = 8
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxAccessCodeRolls = 10
)

// NewAccessCode returns a random uppercase alphanumeric code
func NewAccessCode() (string, error) {
	buf := make([]byte, accessCodeLength)
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

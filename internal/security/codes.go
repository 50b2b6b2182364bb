package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	verificationCodeBytes = 32
	DefaultPinDigits      = 6
)

// CodeGenerator produces single-use secrets from crypto/rand.
type CodeGenerator struct{}

func NewCodeGenerator() CodeGenerator { return CodeGenerator{} }

// VerificationCode returns 32 random bytes, hex encoded (64 chars).
func (CodeGenerator) VerificationCode() (string, error) {
	b := make([]byte, verificationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// PinCode returns a numeric code of the given length. The first digit is never
// zero so the code keeps its length when treated as a number.
func (CodeGenerator) PinCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("pin code length must be between 4 and 10 digits")
	}

	var b strings.Builder
	b.Grow(digits)

	for i := 0; i < digits; i++ {
		max, offset := int64(10), int64(0)
		if i == 0 {
			max, offset = 9, 1
		}
		n, err := rand.Int(rand.Reader, big.NewInt(max))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64() + offset))
	}
	return b.String(), nil
}

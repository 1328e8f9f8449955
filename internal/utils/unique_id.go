package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// accountAlphabet leaves out characters that are easy to misread (0/O, 1/I)
const accountAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// AccountIDLength is the length of a generated account ID
const AccountIDLength = 8

// GenerateAccountID generates a random upper-case account ID like "K7QX2MPA"
func GenerateAccountID() (string, error) {
	var b strings.Builder
	b.Grow(AccountIDLength)
	size := big.NewInt(int64(len(accountAlphabet)))
	for i := 0; i < AccountIDLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(accountAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidateAccountID checks the format of an account ID, ignoring case
func ValidateAccountID(id string) bool {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) != AccountIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(accountAlphabet, rune(id[i])) {
			return false
		}
	}
	return true
}

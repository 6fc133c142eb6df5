package domain

import (
	"crypto/rand"
	"fmt"
)

// Alphabet is the character set of public ids and deletion secrets.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// bytes at or above this value are rejected to keep the draw uniform.
const maxUnbiased = 256 - 256%len(Alphabet)

// RandomString returns n characters drawn uniformly from Alphabet.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid length %d", n)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func NewPublicID(n int) (PublicID, error) {
	s, err := RandomString(n)
	return PublicID(s), err
}

func NewDeletionSecret(n int) (string, error) {
	return RandomString(n)
}

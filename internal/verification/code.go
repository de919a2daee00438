package verification

import (
	"crypto/rand"
	"fmt"
)

// Alphabet is the linking-code symbol set: lowercase letters and digits,
// chosen so codes survive being read aloud or typed into game chat.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxAccepted is the largest multiple of len(Alphabet) that fits in a
// byte. Random bytes at or above it are redrawn rather than folded with
// modulo, which would skew the distribution toward low symbols.
const maxAccepted = 256 - 256%len(Alphabet)

// GenerateCode returns a random code of the given length over Alphabet,
// using rejection sampling on crypto/rand bytes so every symbol is equally
// likely.
func GenerateCode(length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("verification: read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxAccepted {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

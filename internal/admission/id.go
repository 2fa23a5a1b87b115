package admission

import (
	"crypto/rand"
	"fmt"
)

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 4
)

// IDFunc produces candidate request ids.
type IDFunc func() (string, error)

// RandomID returns four upper-case alphanumerics drawn from crypto/rand.
func RandomID() (string, error) {
	// largest multiple of the alphabet size below 256, to keep draws uniform
	const limit = 256 - 256%len(idAlphabet)

	out := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random id: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out), nil
}

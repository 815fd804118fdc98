package random

import (
	crand "crypto/rand"
	"math/rand/v2"
)

const (
	CharsetAlphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CharsetHex          = "0123456789abcdef"
)

// CryptoRand returns a fast generator seeded from the system entropy source
func CryptoRand() (r *rand.Rand) {
	var seed [32]byte
	_, err := crand.Read(seed[:])
	if err != nil {
		panic("failed to seed generator: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// String picks length characters of charset. charset must be ASCII
func String(r *rand.Rand, charset string, length int) (s string) {
	buf := make([]byte, length)
	for index := range buf {
		buf[index] = charset[r.IntN(len(charset))]
	}
	return string(buf)
}

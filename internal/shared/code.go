package shared

import (
	"strings"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCode returns n upper-case alphanumeric characters drawn from random
// UUID bytes. Bytes at or above the largest multiple of the alphabet size are
// skipped so every character is equally likely.
func RandomCode(n int) string {
	limit := byte(256 - 256%len(codeAlphabet))
	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		id := uuid.New()
		for _, c := range id {
			if b.Len() == n {
				break
			}
			if c >= limit {
				continue
			}
			b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
		}
	}
	return b.String()
}

// Package idgen generates item identifiers.
//
// Stable ID generation is treated as an external collaborator — the
// core only requires that an id, once assigned, is a non-empty opaque
// string. This package supplies the default generator used when a caller
// constructs an Item without an id; it is a concrete implementation of the
// idgen.Source interface used throughout internal/item, not a mandated
// algorithm.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Source generates new item ids. Implementations must return non-empty,
// globally-unique strings.
type Source interface {
	NewID(className string) string
}

// Default is the package-level Source used by internal/item when no
// explicit Source is supplied.
var Default Source = randomSource{}

type randomSource struct{}

func (randomSource) NewID(className string) string {
	return New(className)
}

// New returns a random, base36-encoded id prefixed with a lowercased form
// of className and 16 base36 digits, e.g. "dog-9wt4w2f1c8a3k2mz".
func New(className string) string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a degraded but still unique-enough value.
		return fmt.Sprintf("%s-%x", strings.ToLower(className), buf)
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(className), encodeBase36(buf, 16))
}

// encodeBase36 converts data to a base36 string of the given length,
// left-padding with zeros or truncating to the least-significant digits.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

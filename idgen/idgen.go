// Package idgen provides pluggable ID generation for webclip.
//
// Constructors that mint identifiers (image references, correlation tokens,
// journal rows) accept a Generator so tests can substitute a deterministic one.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ImageIDLength is the length of image reference ids embedded in clipped
// HTML. The note service treats any <img src> of this shape as a reference
// into the payload's image list.
const ImageIDLength = 20

// TokenLength is the length of cross-context correlation tokens.
const TokenLength = 12

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Uniqueness is probabilistic: 36^length possible values, no collision check.
func NanoID(length int) Generator {
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			// 252 is the largest multiple of 36 below 256; rejecting above it
			// keeps the distribution uniform.
			v := buf[i]
			for v >= 252 {
				var one [1]byte
				if _, err := rand.Read(one[:]); err != nil {
					panic("idgen: crypto/rand failed: " + err.Error())
				}
				v = one[0]
			}
			b[i] = alphabet[int(v)%len(alphabet)]
		}
		return string(b)
	}
}

// ImageID returns the generator used for image reference ids.
func ImageID() Generator { return NanoID(ImageIDLength) }

// Token returns the generator used for correlation tokens.
func Token() Generator { return NanoID(TokenLength) }

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator producing prefix1, prefix2, ...
// Intended for tests. Safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is used for journal rows: time-sortable UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}

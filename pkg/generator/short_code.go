package generator

import (
	"crypto/rand"
	"math/big"
)

const (
	base62Chars       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	DefaultSlugLength = 7
)

// NewSlug returns a random base62 slug of DefaultSlugLength characters.
func NewSlug() (string, error) {
	return Slug(DefaultSlugLength)
}

func Slug(length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(base62Chars)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}

		b[i] = base62Chars[n.Int64()]
	}

	return string(b), nil
}

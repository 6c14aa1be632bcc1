package ordernum

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	prefix     = "ORD-"
	tokenBytes = 10

	// Crockford-style alphabet, no ambiguous characters (0/O, 1/I/L).
	alphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"
)

var pattern = regexp.MustCompile(`^ORD-[` + alphabet + `]{` + fmt.Sprint(tokenBytes) + `}$`)

// New generates a globally unique order number in the `ORD-<token>` format.
// The token is drawn from crypto/rand; callers still rely on the database
// unique constraint as the final arbiter.
func New() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating order number token: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, b := range buf {
		sb.WriteByte(alphabet[int(b)%len(alphabet)])
	}
	return sb.String(), nil
}

// IsValid reports whether the value looks like an order number we issued.
func IsValid(value string) bool {
	return pattern.MatchString(value)
}

package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
)

// keyAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	keyPrefix      = "KEY"
	keyGroups      = 4
	keyGroupLength = 4
	maxKeyAttempts = 50
)

var ErrKeyGenerationExhausted = errors.New("license key generation exhausted attempts")

type KeyChecker interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

// Generator produces unique license keys, checked against the store.
type Generator struct {
	checker KeyChecker
}

func NewGenerator(checker KeyChecker) *Generator {
	return &Generator{checker: checker}
}

// GenerateUniqueKey returns a key not present in the license store. If the
// store is unavailable, it returns an unchecked key rather than failing: a
// collision is astronomically unlikely, an unprovisioned license is not.
func (g *Generator) GenerateUniqueKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := randomKey()
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}

		exists, err := g.checker.KeyExists(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "license store unavailable, returning unchecked key", "error", err)
			return key, nil
		}
		if !exists {
			return key, nil
		}

		slog.WarnContext(ctx, "license key collision, regenerating", "attempt", attempt+1)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrKeyGenerationExhausted, maxKeyAttempts)
}

func randomKey() (string, error) {
	groups := make([]string, 0, keyGroups+1)
	groups = append(groups, keyPrefix)
	max := big.NewInt(int64(len(keyAlphabet)))

	for i := 0; i < keyGroups; i++ {
		var b strings.Builder
		for j := 0; j < keyGroupLength; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
		groups = append(groups, b.String())
	}
	return strings.Join(groups, "-"), nil
}

// IsTemporary recognizes the short placeholder keys the producer issues when
// the real key is not known at enqueue time (e.g. "L3", "TEMP-7"). The
// processor swaps these for generated keys before creating a subscription.
func IsTemporary(key string) bool {
	if key == "" {
		return true
	}
	if strings.HasPrefix(key, keyPrefix+"-") {
		return false
	}
	return len(key) < 12
}

package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator_Generate(t *testing.T) {
	gen := NewCodeGenerator()
	sixDigits := regexp.MustCompile(`^[0-9]{6}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
		seen[code] = struct{}{}
	}

	// 50 draws from a million values should almost never collide down to a handful
	assert.Greater(t, len(seen), 40)
}

func TestCodeHasher_Matches(t *testing.T) {
	h := NewCodeHasher("pepper-for-tests-0123456789")

	hash := h.Hash("123456")
	assert.Len(t, hash, 64)
	assert.NotContains(t, hash, "123456")

	assert.True(t, h.Matches("123456", hash))
	assert.False(t, h.Matches("123457", hash))
	assert.False(t, h.Matches("123456", "not-hex"))
	assert.False(t, h.Matches("123456", ""))
}

func TestCodeHasher_PepperChangesHash(t *testing.T) {
	a := NewCodeHasher("pepper-a-0123456789")
	b := NewCodeHasher("pepper-b-0123456789")

	assert.NotEqual(t, a.Hash("654321"), b.Hash("654321"))
	assert.False(t, b.Matches("654321", a.Hash("654321")))
}

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantTimeEqual(t *testing.T) {
	t.Run("returns true for equal strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("abc", "abc"))
	})

	t.Run("returns false for different strings", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "def"))
	})

	t.Run("returns false for different lengths", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "abcd"))
	})

	t.Run("returns true for empty strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("", ""))
	})
}

func TestMaskCode(t *testing.T) {
	t.Run("masks everything after the first four characters", func(t *testing.T) {
		assert.Equal(t, "GKTM-****", MaskCode("GKTM-PQRS"))
		assert.Equal(t, "ABCD-****", MaskCode("ABCDEFGH"))
	})

	t.Run("masks short codes entirely", func(t *testing.T) {
		assert.Equal(t, "****", MaskCode("AB"))
		assert.Equal(t, "****", MaskCode(""))
	})
}

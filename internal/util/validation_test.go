package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	t.Run("accepts lowercase uuid", func(t *testing.T) {
		assert.True(t, IsValidUUID("f47ac10b-58cc-4372-a567-0e02b2c3d479"))
	})

	t.Run("rejects empty string", func(t *testing.T) {
		assert.False(t, IsValidUUID(""))
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		assert.False(t, IsValidUUID("not-a-uuid"))
		assert.False(t, IsValidUUID("F47AC10B-58CC-4372-A567-0E02B2C3D479"))
	})
}

func TestIsValidUserID(t *testing.T) {
	t.Run("accepts safe identifiers", func(t *testing.T) {
		assert.True(t, IsValidUserID("alice"))
		assert.True(t, IsValidUserID("user_42"))
		assert.True(t, IsValidUserID("team.bot-01"))
	})

	t.Run("rejects empty and oversized", func(t *testing.T) {
		assert.False(t, IsValidUserID(""))
		long := make([]byte, 65)
		for i := range long {
			long[i] = 'a'
		}
		assert.False(t, IsValidUserID(string(long)))
	})

	t.Run("rejects path and shell characters", func(t *testing.T) {
		assert.False(t, IsValidUserID("../etc"))
		assert.False(t, IsValidUserID("alice bob"))
		assert.False(t, IsValidUserID("alice;rm"))
	})
}

func TestNormalizePhone(t *testing.T) {
	t.Run("strips formatting characters", func(t *testing.T) {
		assert.Equal(t, "12025551234", NormalizePhone("+1 (202) 555-1234"))
	})

	t.Run("keeps digit-only input unchanged", func(t *testing.T) {
		assert.Equal(t, "4915123456789", NormalizePhone("4915123456789"))
	})

	t.Run("returns empty for no digits", func(t *testing.T) {
		assert.Equal(t, "", NormalizePhone("abc"))
	})
}

func TestMaskPhone(t *testing.T) {
	t.Run("keeps prefix and last two digits", func(t *testing.T) {
		assert.Equal(t, "12*******34", MaskPhone("12025551234"))
	})

	t.Run("masks short values entirely", func(t *testing.T) {
		assert.Equal(t, "***", MaskPhone("123"))
	})
}

package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneService_Normalize(t *testing.T) {
	svc := NewPhoneService()

	t.Run("strips formatting from NANP numbers", func(t *testing.T) {
		assert.Equal(t, "+15551234567", svc.Normalize("(555) 123-4567"))
		assert.Equal(t, "+15551234567", svc.Normalize("555.123.4567"))
		assert.Equal(t, "+15551234567", svc.Normalize("555 123 4567"))
	})

	t.Run("adds country code to bare 10-digit numbers", func(t *testing.T) {
		assert.Equal(t, "+15551234567", svc.Normalize("5551234567"))
	})

	t.Run("handles 11-digit numbers with leading 1", func(t *testing.T) {
		assert.Equal(t, "+15551234567", svc.Normalize("15551234567"))
		assert.Equal(t, "+15551234567", svc.Normalize("1-555-123-4567"))
	})

	t.Run("preserves existing country codes", func(t *testing.T) {
		assert.Equal(t, "+447911123456", svc.Normalize("+44 7911 123456"))
		assert.Equal(t, "+15551234567", svc.Normalize("+1 (555) 123-4567"))
	})

	t.Run("keeps short codes bare", func(t *testing.T) {
		assert.Equal(t, "40404", svc.Normalize("40404"))
		assert.Equal(t, "888222", svc.Normalize("888-222"))
	})

	t.Run("keeps alphanumeric sender ids verbatim", func(t *testing.T) {
		assert.Equal(t, "GOOGLE", svc.Normalize("GOOGLE"))
		assert.Equal(t, "alerts@bank.example", svc.Normalize("alerts@bank.example"))
	})

	t.Run("trims whitespace", func(t *testing.T) {
		assert.Equal(t, "+15551234567", svc.Normalize("  5551234567  "))
		assert.Equal(t, "", svc.Normalize("   "))
	})
}

func TestPhoneService_Same(t *testing.T) {
	svc := NewPhoneService()

	t.Run("matches differently formatted same number", func(t *testing.T) {
		assert.True(t, svc.Same("(555) 123-4567", "+15551234567"))
		assert.True(t, svc.Same("15551234567", "555.123.4567"))
	})

	t.Run("distinguishes different numbers", func(t *testing.T) {
		assert.False(t, svc.Same("5551234567", "5551234568"))
	})
}

func TestPhoneService_IsShortCode(t *testing.T) {
	svc := NewPhoneService()

	assert.True(t, svc.IsShortCode("40404"))
	assert.True(t, svc.IsShortCode("888222"))
	assert.False(t, svc.IsShortCode("5551234567"))
	assert.False(t, svc.IsShortCode("+40404"))
	assert.False(t, svc.IsShortCode("GOOGLE"))
	assert.False(t, svc.IsShortCode(""))
}

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsDailyFolderName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"06-02-2025", true},
		{"12-31-2026", true},
		{"6-2-2025", false},
		{"06-02-25", false},
		{"2025 Archive", false},
		{"06-02-2025-old", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDailyFolderName(tt.name))
		})
	}
}

func TestValidateConfidence(t *testing.T) {
	assert.NoError(t, ValidateConfidence(0))
	assert.NoError(t, ValidateConfidence(100))
	assert.Error(t, ValidateConfidence(-1))
	assert.Error(t, ValidateConfidence(101))
}

func TestValidateYear(t *testing.T) {
	assert.NoError(t, ValidateYear(2025))
	assert.NoError(t, ValidateYear(time.Now().Year()+1))
	assert.Error(t, ValidateYear(25))
	assert.Error(t, ValidateYear(time.Now().Year()+2))
}

func TestSanitizeCSVField(t *testing.T) {
	assert.Equal(t, "a; b c", SanitizeCSVField("a, b\nc"))
	assert.Equal(t, "bell", SanitizeCSVField("be\x07ll"))
}

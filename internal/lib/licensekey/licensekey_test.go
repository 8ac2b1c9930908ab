package licensekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Format(t *testing.T) {
	for range 50 {
		key, err := Generate()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, key)
		assert.True(t, Valid(key))
	}
}

func TestGenerate_Distinct(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValid(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{key: "ABCD-1234-EF56-7890", want: true},
		{key: " abcd-1234-ef56-7890 ", want: true},
		{key: "ABCD-1234-EF56", want: false},
		{key: "ABCD12345EF567890", want: false},
		{key: "GHIJ-1234-EF56-7890", want: false},
		{key: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.key))
		})
	}
}

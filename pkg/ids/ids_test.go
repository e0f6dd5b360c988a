package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdIsRandomAndStable(t *testing.T) {
	a := NewId()
	b := NewId()

	assert.NotEqual(t, a, b)
	assert.Equal(t, string(a), a.String())
}

func TestNewInstanceId(t *testing.T) {
	a := NewInstanceId()
	b := NewInstanceId()
	assert.NotEqual(t, a, b)
}

func TestRandomLockKey(t *testing.T) {
	a := RandomLockKey()
	b := RandomLockKey()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestBLOBIdRoundTrip(t *testing.T) {
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}

	id := NewBLOBId(digest)
	assert.True(t, strings.HasPrefix(string(id), blobPrefix))

	parsed, err := ParseBLOBId(string(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestValidateBLOBIdRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"missing prefix", "not-a-blob-id"},
		{"wrong length", blobPrefix + "tooshort"},
		{"bad characters", blobPrefix + string(make([]byte, 43))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBLOBId(tt.value)
			assert.Error(t, err)
		})
	}
}

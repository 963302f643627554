package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New("unit-test-secret")
	require.NoError(t, err)

	sealed, err := box.Seal("remote-pw-123")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "remote-pw-123")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "remote-pw-123", plain)
}

func TestSealIsNonDeterministic(t *testing.T) {
	box, err := New("unit-test-secret")
	require.NoError(t, err)

	a, err := box.Seal("same")
	require.NoError(t, err)
	b, err := box.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per seal")
}

func TestOpenWrongKeyFails(t *testing.T) {
	box1, err := New("key-one")
	require.NoError(t, err)
	box2, err := New("key-two")
	require.NoError(t, err)

	sealed, err := box1.Seal("secret")
	require.NoError(t, err)
	_, err = box2.Open(sealed)
	assert.Error(t, err)
}

func TestOpenTruncatedCiphertext(t *testing.T) {
	box, err := New("unit-test-secret")
	require.NoError(t, err)
	_, err = box.Open([]byte("short"))
	assert.Error(t, err)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

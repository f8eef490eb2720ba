package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateIdentityProducesStableDerivedID(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.NotEmpty(t, id.ID)

	again := derivePeerID(id.SignKeys.Public)
	require.Equal(t, id.ID, again)
}

func TestGenerateIdentityUniqueIDs(t *testing.T) {
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestNormalizePeerID(t *testing.T) {
	require.Equal(t, PeerID("ABC123"), NormalizePeerID("  ab c123  "))
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, err := GenerateIdentity()
	require.NoError(t, err)
	recipient, err := GenerateIdentity()
	require.NoError(t, err)

	plaintext := []byte("hello across the mesh")
	env, err := Seal(sender, recipient.Public(), plaintext)
	require.NoError(t, err)

	got, err := Open(recipient, sender.SignKeys.Public, env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsWrongRecipient(t *testing.T) {
	sender, err := GenerateIdentity()
	require.NoError(t, err)
	recipient, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	env, err := Seal(sender, recipient.Public(), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(other, sender.SignKeys.Public, env)
	require.Error(t, err)
}

func TestOpenRejectsForgedSignature(t *testing.T) {
	sender, err := GenerateIdentity()
	require.NoError(t, err)
	impostor, err := GenerateIdentity()
	require.NoError(t, err)
	recipient, err := GenerateIdentity()
	require.NoError(t, err)

	env, err := Seal(sender, recipient.Public(), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(recipient, impostor.SignKeys.Public, env)
	require.Error(t, err)
}

func TestDeviceFingerprintDeterministic(t *testing.T) {
	a := DeviceFingerprint()
	b := DeviceFingerprint()
	require.Equal(t, a, b)
}

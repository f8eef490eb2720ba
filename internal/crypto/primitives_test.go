package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECDHSymmetric(t *testing.T) {
	for i := 0; i < 200; i++ {
		a, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		b, err := GenerateX25519KeyPair()
		require.NoError(t, err)

		s1, err := ECDH(a.Private, b.Public)
		require.NoError(t, err)
		s2, err := ECDH(b.Private, a.Public)
		require.NoError(t, err)
		require.Equal(t, s1, s2)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)

	for _, msg := range [][]byte{{}, make([]byte, 1<<20)} {
		sig := Sign(kp.Private, msg)
		require.True(t, Verify(kp.Public, msg, sig))
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)

	msg := []byte("hello mesh")
	sig := Sign(kp.Private, msg)
	sig[0] ^= 0xFF
	require.False(t, Verify(kp.Public, msg, sig))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	require.False(t, Verify(nil, []byte("x"), nil))
}

func TestAEADSealOpenEmptyPlaintext(t *testing.T) {
	var key [32]byte
	var nonce [12]byte
	_, err := RandomFill(key[:])
	require.NoError(t, err)

	ct, err := AEADSeal(key, nonce, nil, []byte("aad"))
	require.NoError(t, err)

	pt, err := AEADOpen(key, nonce, ct, []byte("aad"))
	require.NoError(t, err)
	require.Empty(t, pt)
}

func TestAEADSealRejectsOversizePlaintext(t *testing.T) {
	var key [32]byte
	var nonce [12]byte
	_, err := AEADSeal(key, nonce, make([]byte, MaxAEADPlaintext+1), nil)
	require.Error(t, err)
}

func TestAEADSealMaxBoundary(t *testing.T) {
	var key [32]byte
	var nonce [12]byte
	pt := make([]byte, MaxAEADPlaintext)
	ct, err := AEADSeal(key, nonce, pt, nil)
	require.NoError(t, err)

	got, err := AEADOpen(key, nonce, ct, nil)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestXAEADRoundTrip(t *testing.T) {
	var key [32]byte
	_, err := RandomFill(key[:])
	require.NoError(t, err)

	plaintext := []byte("sealed envelope payload")
	blob, err := XAEADSeal(key, plaintext, []byte("ctx"))
	require.NoError(t, err)

	got, err := XAEADOpen(key, blob, []byte("ctx"))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestXAEADOpenRejectsWrongAAD(t *testing.T) {
	var key [32]byte
	blob, err := XAEADSeal(key, []byte("payload"), []byte("ctx-a"))
	require.NoError(t, err)

	_, err = XAEADOpen(key, blob, []byte("ctx-b"))
	require.Error(t, err)
}

func TestHKDFExpandDeterministic(t *testing.T) {
	ikm := []byte("shared-secret")
	out1, err := HKDFExpand(ikm, []byte("salt"), "meshnet-test", 32)
	require.NoError(t, err)
	out2, err := HKDFExpand(ikm, []byte("salt"), "meshnet-test", 32)
	require.NoError(t, err)
	require.Equal(t, out1, out2)

	out3, err := HKDFExpand(ikm, []byte("salt"), "other-info", 32)
	require.NoError(t, err)
	require.NotEqual(t, out1, out3)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}

func RandomFill(b []byte) (int, error) {
	r, err := RandomBytes(len(b))
	if err != nil {
		return 0, err
	}
	copy(b, r)
	return len(b), nil
}

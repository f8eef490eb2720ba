// Identity persistence: an Identity's private key material is opaque
// bytes to a host application, sealed behind whatever adapter.SecretStore
// it supplies (spec §1 Out-of-scope: "platform keystores"). Grounded on
// the teacher's env.go/env_encrypt.go load-or-create flow (loadEnvSecrets/
// createEnvSecrets against a single named env.enc blob), generalized from
// two fixed symmetric keys into one Ed25519+X25519 identity blob.
package identity

import (
	"crypto/ed25519"

	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/meshcore/meshnet/internal/errs"
)

// SecretStore is the minimal secure-secret contract this package needs;
// satisfied by adapter.SecretStore without importing it directly (avoids
// an import cycle, since adapter has no reason to know about identity).
type SecretStore interface {
	Put(name string, value []byte) error
	Get(name string) ([]byte, error)
}

const identitySecretName = "node-identity"

// encode lays out ed25519.PrivateKey (64 bytes) followed by the X25519
// private scalar (32 bytes); both public keys are re-derived on load
// rather than stored, so there is exactly one place a corrupt file could
// disagree with itself.
func encode(id *Identity) []byte {
	out := make([]byte, 0, ed25519.PrivateKeySize+32)
	out = append(out, id.SignKeys.Private...)
	out = append(out, id.ECDHKeys.Private[:]...)
	return out
}

func decode(raw []byte) (*Identity, error) {
	if len(raw) != ed25519.PrivateKeySize+32 {
		return nil, errs.NewStorage(errs.StorageCorrupt, nil)
	}
	signPriv := append(ed25519.PrivateKey{}, raw[:ed25519.PrivateKeySize]...)
	signPub := signPriv.Public().(ed25519.PublicKey)

	var ecdhPriv [32]byte
	copy(ecdhPriv[:], raw[ed25519.PrivateKeySize:])
	// X25519(priv, basepoint) recomputes the matching public key, the same
	// curve operation GenerateX25519KeyPair performs at generation time.
	basepoint := [32]byte{9}
	pub, err := mcrypto.ECDH(ecdhPriv, basepoint)
	if err != nil {
		return nil, err
	}
	var ecdhPub [32]byte
	copy(ecdhPub[:], pub)

	return &Identity{
		ID:       derivePeerID(signPub),
		SignKeys: mcrypto.SignKeyPair{Public: signPub, Private: signPriv},
		ECDHKeys: mcrypto.X25519KeyPair{Public: ecdhPub, Private: ecdhPriv},
	}, nil
}

// Save seals id's private key material into store under a fixed name.
func Save(store SecretStore, id *Identity) error {
	return store.Put(identitySecretName, encode(id))
}

// LoadOrGenerate returns the identity already sealed in store, or
// generates and persists a fresh one if none exists yet — the same
// load-or-create branch the teacher's main.go runs over env.enc.
func LoadOrGenerate(store SecretStore) (*Identity, error) {
	raw, err := store.Get(identitySecretName)
	if err == nil {
		return decode(raw)
	}
	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := Save(store, id); err != nil {
		return nil, err
	}
	return id, nil
}

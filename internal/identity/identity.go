// Package identity derives a node's cryptographic identity and peer ID,
// and implements the sealed-envelope format used to address a message to a
// specific recipient.
//
// Grounded on the teacher's fingerprint.go (deriveNodeKeyPair) and
// identity.go (buildNodeIdentity), generalized from a single
// device-fingerprint seed into a full Identity that also carries an X25519
// encryption keypair for envelope sealing.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"

	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/meshcore/meshnet/internal/errs"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

// Wipe zeros an identity's private key material in place. Safe to call
// once at shutdown; the Identity must not be used for signing or ECDH
// afterward.
func Wipe(id *Identity) {
	mcrypto.Wipe(id.SignKeys.Private)
	mcrypto.Wipe(id.ECDHKeys.Private[:])
}

// PeerID is the normalized (upper-hex, no whitespace) first 16 hex
// characters of SHA-256(signing public key) — spec §3/§4.2. Distinct from
// the teacher's base32 NodeID, which hashed a device fingerprint instead
// of a public key; kept as a derivation of the Ed25519 identity so that
// equality and renaming-impossibility hold as invariants.
type PeerID string

// Fingerprint returns upper-hex(SHA-256(publicKey)) — the full 64-char
// fingerprint a peer ID is truncated from.
func Fingerprint(signPub []byte) string {
	h := mcrypto.SHA256(signPub)
	return strings.ToUpper(hexEncode(h[:]))
}

// Identity is a node's full cryptographic identity: a signing keypair for
// message authentication and an X25519 keypair for envelope sealing.
type Identity struct {
	ID         PeerID
	SignKeys   mcrypto.SignKeyPair
	ECDHKeys   mcrypto.X25519KeyPair
}

// GenerateIdentity creates a fresh random identity (spec §2, normal path).
func GenerateIdentity() (*Identity, error) {
	signKP, err := mcrypto.GenerateSignKeyPair()
	if err != nil {
		return nil, err
	}
	ecdhKP, err := mcrypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:       derivePeerID(signKP.Public),
		SignKeys: signKP,
		ECDHKeys: ecdhKP,
	}, nil
}

// derivePeerID is upper-hex(SHA-256(signPub))[:16] (spec §3/§4.2: fingerprint
// truncated to its leading 8 bytes). Purely a function of the signing
// public key, so restoring an identity from storage always reproduces the
// same ID and renaming is impossible.
func derivePeerID(signPub []byte) PeerID {
	return PeerID(Fingerprint(signPub)[:16])
}

// deviceFingerprintInput is the best-effort machine fingerprint input
// hashed by DeviceFingerprint. GenerateIdentity and LoadOrGenerate do not
// use it; identity keys come from the system RNG alone.
type deviceFingerprintInput struct {
	SN   string   `json:"sn,omitempty"`
	MACs []string `json:"macs,omitempty"`
	OS   string   `json:"os"`
	Host string   `json:"host"`
}

// DeviceFingerprint returns a best-effort, cross-platform hardware
// fingerprint hash. Grounded on the teacher's fingerprint.go trySerial/
// allMACs, collapsed to a single cross-platform implementation: the
// Windows registry branch (identity_windows.go) has no equivalent on other
// platforms and is dropped (see DESIGN.md).
func DeviceFingerprint() [32]byte {
	host, _ := os.Hostname()
	fp := deviceFingerprintInput{
		SN:   trySerial(),
		MACs: allMACs(),
		OS:   runtime.GOOS,
		Host: host,
	}
	j, _ := json.Marshal(fp)
	return mcrypto.SHA256(j)
}

func trySerial() string {
	if s := os.Getenv("MESHNET_DEVICE_SN"); s != "" {
		return s
	}
	if runtime.GOOS == "linux" {
		paths := []string{
			"/sys/class/dmi/id/product_uuid",
			"/sys/class/dmi/id/board_serial",
			"/sys/devices/virtual/dmi/id/product_uuid",
		}
		for _, p := range paths {
			if b, err := os.ReadFile(p); err == nil {
				s := strings.TrimSpace(string(b))
				if s != "" && s != "None" {
					return s
				}
			}
		}
	}
	return ""
}

func allMACs() []string {
	ifs, _ := net.Interfaces()
	var macs []string
	for _, i := range ifs {
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		m := i.HardwareAddr.String()
		if m == "" {
			continue
		}
		macs = append(macs, strings.ToLower(m))
	}
	sort.Strings(macs)
	return macs
}

// NormalizePeerID upper-cases and strips all whitespace, matching the
// canonical form produced by derivePeerID. Equality comparisons between
// peer IDs MUST use this normalized form.
func NormalizePeerID(s string) PeerID {
	return PeerID(strings.ToUpper(strings.Join(strings.Fields(s), "")))
}

// PublicInfo is what an identity advertises to peers: its ID and both
// public keys, with no private material.
type PublicInfo struct {
	ID        PeerID
	SignPub   []byte
	ECDHPub   [32]byte
}

func (id *Identity) Public() PublicInfo {
	return PublicInfo{
		ID:      id.ID,
		SignPub: append([]byte{}, id.SignKeys.Public...),
		ECDHPub: id.ECDHKeys.Public,
	}
}

// validate confirms a PublicInfo's keys are well-formed before use in ECDH
// or signature verification.
func (p PublicInfo) validate() error {
	if len(p.SignPub) != 32 {
		return errs.NewCrypto(errs.CryptoKeyFormat, nil)
	}
	return nil
}

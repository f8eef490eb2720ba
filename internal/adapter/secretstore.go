// Package adapter implements the reference storage adapters the core
// consumes through generic interfaces (spec §1 Out-of-scope: "persistent
// key-value storage engines (consumed through a generic adapter)",
// "platform keystores (consumed through a generic secure-secret
// interface)"). Hosts embedding the core may substitute their own.
//
// Grounded on the teacher's env_encrypt.go/env.go (MENV1 magic, Argon2id
// KDF, salt‖nonce‖len‖ciphertext framing), generalized from two
// hard-coded named secrets (BeaconKey/FileKey) into an arbitrary
// named-blob store.
package adapter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/meshcore/meshnet/internal/errs"
)

// SecretStore is the generic secure-secret interface the core consumes
// for identity material (spec §1).
type SecretStore interface {
	Put(name string, value []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
}

var secretMagic = []byte("MENV1")

const (
	saltSize = 16
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
)

func deriveKey(pass, salt []byte) []byte {
	return argon2.IDKey(pass, salt, argonTime, argonMemory, argonThreads, 32)
}

// FileSecretStore persists one MENV1-framed, Argon2id/XChaCha20-Poly1305
// sealed file per named secret under baseDir.
type FileSecretStore struct {
	mu      sync.Mutex
	baseDir string
	pass    []byte
}

// NewFileSecretStore constructs a FileSecretStore rooted at baseDir,
// sealed under passphrase. baseDir is created with 0700 permissions if
// missing.
func NewFileSecretStore(baseDir string, passphrase []byte) (*FileSecretStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errs.NewStorage(errs.StorageUnavailable, err)
	}
	return &FileSecretStore{baseDir: baseDir, pass: passphrase}, nil
}

func (s *FileSecretStore) path(name string) string {
	return filepath.Join(s.baseDir, name+".enc")
}

// Put seals value under name, overwriting any prior value.
func (s *FileSecretStore) Put(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := mcrypto.RandomBytes(saltSize)
	if err != nil {
		return errs.NewCrypto(errs.CryptoRandom, err)
	}
	key := deriveKey(s.pass, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errs.NewCrypto(errs.CryptoKeyFormat, err)
	}
	nonce, err := mcrypto.RandomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return errs.NewCrypto(errs.CryptoRandom, err)
	}
	ct := aead.Seal(nil, nonce, value, nil)

	out := make([]byte, 0, len(secretMagic)+saltSize+len(nonce)+4+len(ct))
	out = append(out, secretMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(value)))
	out = append(out, lbuf[:]...)
	out = append(out, ct...)

	return os.WriteFile(s.path(name), out, 0o600)
}

// Get opens and returns the value stored under name.
func (s *FileSecretStore) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, errs.NewStorage(errs.StorageUnavailable, err)
	}
	min := len(secretMagic) + saltSize + chacha20poly1305.NonceSizeX + 4
	if len(b) < min || !bytes.Equal(b[:len(secretMagic)], secretMagic) {
		return nil, errs.NewStorage(errs.StorageCorrupt, fmt.Errorf("malformed secret file %q", name))
	}
	off := len(secretMagic)
	salt := b[off : off+saltSize]
	off += saltSize
	nonce := b[off : off+chacha20poly1305.NonceSizeX]
	off += chacha20poly1305.NonceSizeX
	off += 4 // length prefix, informational only
	ct := b[off:]

	key := deriveKey(s.pass, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errs.NewCrypto(errs.CryptoKeyFormat, err)
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.NewCrypto(errs.CryptoAuthTag, err)
	}
	return plain, nil
}

// Delete removes the stored secret, if any.
func (s *FileSecretStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return errs.NewStorage(errs.StorageUnavailable, err)
	}
	return nil
}

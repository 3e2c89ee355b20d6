// Package identity manages Ed25519 signing identities and the operator
// tokens derived from them.
//
// Every ledger participant — plot owners, the validator authority run by the
// oracle node, external verifiers — is identified by the hex encoding of an
// Ed25519 public key. Mutating ledger instructions carry a signature made by
// the participant's private key; the state machine verifies it against the
// identity stored on the target account.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const keyFile = "identity.key"

// Identity is the hex-encoded Ed25519 public key of a participant.
type Identity string

// Zero reports whether the identity is unset.
func (id Identity) Zero() bool { return id == "" }

// PublicKey decodes the identity back into a verification key.
func (id Identity) PublicKey() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks sig over msg against the identity's public key.
func (id Identity) Verify(msg, sig []byte) bool {
	pub, err := id.PublicKey()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Keypair is a locally held signing identity.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// LoadOrCreate loads the keypair stored in dir, creating and persisting a
// new one on first run. The key is stored as a PKCS#8 PEM file readable only
// by the owning user.
func LoadOrCreate(dir string) (*Keypair, error) {
	path := filepath.Join(dir, keyFile)

	if pemBytes, err := os.ReadFile(path); err == nil {
		return decodeKeypair(pemBytes)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir %q: %w", dir, err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(kp.priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return kp, nil
}

func decodeKeypair(pemBytes []byte) (*Keypair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key file")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key file holds a %T, want ed25519", parsed)
	}
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Identity returns the public identity of the keypair.
func (k *Keypair) Identity() Identity {
	return Identity(hex.EncodeToString(k.pub))
}

// Sign signs msg with the private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Private exposes the raw private key for token signing.
func (k *Keypair) Private() ed25519.PrivateKey { return k.priv }

// Public exposes the raw public key for token verification.
func (k *Keypair) Public() ed25519.PublicKey { return k.pub }

// Package identity persists the server's long-term signing key pair. The
// key is generated on first run and reused for every start thereafter,
// so clients that pinned the fingerprint keep trusting the server.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

type storedIdentity struct {
	PrivateKey string `json:"PrivateKey"`
	PublicKey  string `json:"PublicKey"`
}

// Store holds the loaded key pair. Construction either loads an existing
// key file or generates and persists a fresh pair.
type Store struct {
	path       string
	privateKey *ecdsa.PrivateKey
	publicSPKI []byte
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	if err := s.load(); err == nil {
		return s, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("identity file unreadable, generating a new key pair")
	}

	if err := s.generate(); err != nil {
		return nil, err
	}
	return s, nil
}

// PublicKey returns the SubjectPublicKeyInfo encoding of the identity
// public key. This is the exact byte sequence clients fingerprint.
func (s *Store) PublicKey() []byte {
	return s.publicSPKI
}

// Sign returns the ASN.1 DER ECDSA signature over SHA-256 of data.
func (s *Store) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	signature, err := ecdsa.SignASN1(rand.Reader, s.privateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signature, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var stored storedIdentity
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse identity file: %w", err)
	}

	privateDER, err := base64.StdEncoding.DecodeString(stored.PrivateKey)
	if err != nil {
		return fmt.Errorf("decode private key: %w", err)
	}
	privateKey, err := x509.ParseECPrivateKey(privateDER)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	publicSPKI, err := base64.StdEncoding.DecodeString(stored.PublicKey)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}

	s.privateKey = privateKey
	s.publicSPKI = publicSPKI
	return nil
}

func (s *Store) generate() error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate identity key: %w", err)
	}

	publicSPKI, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	s.privateKey = privateKey
	s.publicSPKI = publicSPKI

	if err := s.persist(); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("generated new server identity")
	return nil
}

func (s *Store) persist() error {
	privateDER, err := x509.MarshalECPrivateKey(s.privateKey)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}

	data, err := json.MarshalIndent(storedIdentity{
		PrivateKey: base64.StdEncoding.EncodeToString(privateDER),
		PublicKey:  base64.StdEncoding.EncodeToString(s.publicSPKI),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}

	// Temp file plus rename keeps a crash from leaving a half-written key.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".identity-*")
	if err != nil {
		return fmt.Errorf("create temp identity file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write identity file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close identity file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}

// Package trust implements the client side of trust-on-first-use. The
// first contact with a server records its public-key fingerprint; every
// later contact must present a key with the same fingerprint.
package trust

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// KnownServer is one pinned endpoint in known_servers.json.
type KnownServer struct {
	Host        string `json:"Host"`
	Port        int    `json:"Port"`
	Fingerprint string `json:"Fingerprint"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	servers []KnownServer
}

// NewStore loads the known-servers file. A missing file is an empty
// store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read known servers: %w", err)
	}
	if err := json.Unmarshal(data, &s.servers); err != nil {
		return nil, fmt.Errorf("parse known servers: %w", err)
	}
	return s, nil
}

// Fingerprint renders the SHA-256 of a public-key encoding as
// uppercase colon-separated hex.
func Fingerprint(publicKey []byte) string {
	digest := sha256.Sum256(publicKey)
	parts := make([]string, len(digest))
	for i, b := range digest {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// VerifyOrTrust checks the presented key against the pinned fingerprint
// for (host, port). An unknown endpoint is recorded and trusted; a known
// endpoint must match exactly.
func (s *Store) VerifyOrTrust(host string, port int, publicKey []byte) (bool, error) {
	fingerprint := Fingerprint(publicKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.Host == host && server.Port == port {
			return server.Fingerprint == fingerprint, nil
		}
	}

	s.servers = append(s.servers, KnownServer{Host: host, Port: port, Fingerprint: fingerprint})
	if err := s.persist(); err != nil {
		return false, err
	}
	log.Info().Str("host", host).Int("port", port).Str("fingerprint", fingerprint).
		Msg("trusting new server")
	return true, nil
}

// Known returns the pinned fingerprint for (host, port), if any.
func (s *Store) Known(host string, port int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.Host == host && server.Port == port {
			return server.Fingerprint, true
		}
	}
	return "", false
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.servers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode known servers: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".known-servers-*")
	if err != nil {
		return fmt.Errorf("create temp known servers: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write known servers: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close known servers: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace known servers: %w", err)
	}
	return nil
}

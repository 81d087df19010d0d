// Package noncegen mints unguessable per-request identifiers. It is the
// sole source of conversation ids, session cookie bodies, and CSRF tokens —
// every nonce in the broker traces back to one HMAC-keyed counter, the same
// "hash a monotonic counter under a random key" shape the reference stack
// uses for IPC session keys (internal/ipc/protocol.go's computeHMAC and
// GenerateSessionKey), generalized from signing messages to generating ids.
package noncegen

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// KeySize is the length in bytes of the secret key backing every Generator.
const KeySize = 128

// Generator mints hex nonces from HMAC-SHA256(secretKey, counter). It holds
// no other state; a collision would require either a key compromise or a
// SHA-256 break, neither of which this package defends against further.
type Generator struct {
	key     []byte // immutable after construction
	counter atomic.Uint64
}

// New creates a Generator with a freshly drawn 128-byte secret key. Failure
// to read enough entropy from the OS RNG is treated as fatal by the caller —
// there is no degraded mode for an unseeded key.
func New() (*Generator, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("noncegen: read %d bytes from OS RNG: %w", KeySize, err)
	}
	return &Generator{key: key}, nil
}

// Mint atomically advances the counter and returns the lowercase hex HMAC
// of the new counter value under the generator's secret key.
func (g *Generator) Mint() string {
	count := g.counter.Add(1)

	var countBytes [8]byte
	binary.BigEndian.PutUint64(countBytes[:], count)

	mac := hmac.New(sha256.New, g.key)
	mac.Write(countBytes[:])
	return hex.EncodeToString(mac.Sum(nil))
}

// Close zeroes the secret key. Call once, at broker shutdown; no nonce may
// be minted afterward.
func (g *Generator) Close() {
	for i := range g.key {
		g.key[i] = 0
	}
}

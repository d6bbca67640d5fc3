// Package keystore persists PQ key records and the address links that
// select one of them per wallet address.
//
// Three backends are provided: [Memory] for tests and ephemeral sessions,
// [Dir] for a directory of JSON files and [SQL] for a bun-managed SQLite
// database. All are safe for concurrent use.
package keystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

// ProfileKeyPrefix prefixes the name of the key generated for a profile.
const ProfileKeyPrefix = "profile:"

// ErrKeyNotFound is returned when a named record does not exist.
var ErrKeyNotFound = autherr.ErrKeyNotFound

// KeyRecord is a stored PQ signing keypair.
type KeyRecord struct {
	Name       string    `json:"name"`
	Scheme     string    `json:"scheme"`
	PublicKey  []byte    `json:"publicKey"`
	PrivateKey []byte    `json:"privateKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PublicKeyHash returns the lowercase hex SHA-256 of the public key, the form
// the chain commits to.
func (r *KeyRecord) PublicKeyHash() string {
	sum := sha256.Sum256(r.PublicKey)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy.
func (r *KeyRecord) Clone() *KeyRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PublicKey = append([]byte(nil), r.PublicKey...)
	c.PrivateKey = append([]byte(nil), r.PrivateKey...)
	return &c
}

// ProfileKeyName returns the record name reserved for profileID.
func ProfileKeyName(profileID string) string {
	return ProfileKeyPrefix + strings.TrimSpace(profileID)
}

// Store is the keystore capability consumed by the reconciler.
type Store interface {
	// GetKey returns the named record or ErrKeyNotFound.
	GetKey(ctx context.Context, name string) (*KeyRecord, error)
	// PutKey stores rec under rec.Name, replacing any previous record.
	PutKey(ctx context.Context, rec *KeyRecord) error
	// ListKeys returns every record ordered by name.
	ListKeys(ctx context.Context) ([]*KeyRecord, error)
	// GetLink returns the key name linked to address. ok is false when the
	// address has no link.
	GetLink(ctx context.Context, address string) (name string, ok bool, err error)
	// LinkAddress points address at the named key, replacing any previous link.
	LinkAddress(ctx context.Context, address, name string) error
}

// Package archive keeps a content-addressed copy of each fetched source page.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"
)

const contentType = "text/html; charset=utf-8"

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Snapshot describes an archived page.
type Snapshot struct {
	URI  string
	Hash string
	Key  string
}

// Archiver stores pages under <prefix>/<yyyy>/<mm>/<dd>/<sha256>.html.
type Archiver struct {
	store  BlobStore
	prefix string
	clock  Clock
}

// New returns an Archiver writing to store.
func New(store BlobStore, prefix string, clock Clock) *Archiver {
	return &Archiver{store: store, prefix: prefix, clock: clock}
}

// Store hashes body and uploads it. Identical pages fetched on the same day
// map to the same key.
func (a *Archiver) Store(ctx context.Context, body []byte) (Snapshot, error) {
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	key := Key(a.prefix, a.clock.Now(), hash)
	uri, err := a.store.PutObject(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return Snapshot{}, fmt.Errorf("archive snapshot %s: %w", key, err)
	}
	return Snapshot{URI: uri, Hash: hash, Key: key}, nil
}

// Key builds the object key for a page hash on the UTC date of at.
func Key(prefix string, at time.Time, hash string) string {
	return path.Join(prefix, at.UTC().Format("2006/01/02"), hash+".html")
}

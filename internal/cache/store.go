// Package cache provides the persistent, namespaced key/value store that
// makes collaborator calls idempotent across runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Namespace separates the cached results of one collaborator kind.
type Namespace string

const (
	NamespaceURL     Namespace = "url"
	NamespaceImages  Namespace = "images"
	NamespaceContent Namespace = "content"
)

// Namespaces lists the namespaces used by the pipeline.
var Namespaces = []Namespace{NamespaceURL, NamespaceImages, NamespaceContent}

var namespaceRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Valid reports whether ns is usable as a storage name.
func (ns Namespace) Valid() bool {
	return namespaceRe.MatchString(string(ns))
}

// ErrInvalidNamespace is returned for namespaces that fail Valid.
var ErrInvalidNamespace = eris.New("cache: invalid namespace")

// Store is a concurrency-safe key/value store holding only successful
// collaborator results. Values are JSON documents.
type Store interface {
	// Get returns the value for key. A miss returns (nil, false, nil).
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)
	// Put stores value under key. Concurrent puts for the same key are
	// serialized and the last one wins.
	Put(ctx context.Context, ns Namespace, key string, value []byte) error
	// Len returns the number of entries in ns.
	Len(ctx context.Context, ns Namespace) (int, error)
	Close() error
}

// Entry is a stored value with its write time.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt time.Time       `json:"written_at"`
}

// Key derives a deterministic cache key from the parts of a semantic
// request. Parts are trimmed and lower-cased before hashing, so
// Key("Acme", "Shampoo") == Key(" acme", "SHAMPOO").
func Key(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(norm, "|")))
	return hex.EncodeToString(sum[:])
}

func checkPut(ns Namespace, value []byte) error {
	if !ns.Valid() {
		return eris.Wrapf(ErrInvalidNamespace, "namespace %q", ns)
	}
	if !json.Valid(value) {
		return eris.Errorf("cache: value for namespace %s is not valid JSON", ns)
	}
	return nil
}

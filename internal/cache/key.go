package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
)

// Key accumulates the inputs of a node into a cache key. Fields are length
// prefixed so adjacent values cannot run together.
type Key struct {
	h hash.Hash
}

// NewKey starts a key for one node kind.
func NewKey(kind string) *Key {
	k := &Key{h: sha256.New()}
	return k.Field(kind)
}

// Field adds one value.
func (k *Key) Field(s string) *Key {
	fmt.Fprintf(k.h, "%d:%s;", len(s), s)
	return k
}

// List adds an ordered list of values.
func (k *Key) List(values []string) *Key {
	fmt.Fprintf(k.h, "[%d]", len(values))
	for _, v := range values {
		k.Field(v)
	}
	return k
}

// Map adds a map in sorted key order.
func (k *Key) Map(m map[string]string) *Key {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Fprintf(k.h, "{%d}", len(keys))
	for _, key := range keys {
		k.Field(key).Field(m[key])
	}
	return k
}

// String is the hex digest.
func (k *Key) String() string {
	return hex.EncodeToString(k.h.Sum(nil))
}

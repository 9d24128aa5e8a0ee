// Package kv is the byte-level record store under the knowledge base.
//
// Keys are hierarchical paths such as Key{"skill", "Cook a burger"} and are
// joined with a separator byte (':' unless configured otherwise) before they
// reach a backend. Three backends are provided: [Memory] for tests and
// throwaway runs, [Badger] for a single-node embedded store, and [SQLite]
// for deployments that prefer one portable database file.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String joins the segments with ':' for display.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Append returns a new key with segs added after k.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is one key-value pair.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys.
//
// Implementations are safe for concurrent use. BatchSet and BatchDelete are
// atomic: a concurrent reader observes either none or all of the batch.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields the entries below prefix in ascending key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// ListReverse yields the entries below prefix in descending key order.
	ListReverse(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores all entries atomically.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes all keys atomically.
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}

// DefaultSeparator joins key segments when Options.Separator is zero.
const DefaultSeparator byte = ':'

// Options holds settings shared by all backends. A nil *Options is valid.
type Options struct {
	Separator byte
}

func (o *Options) sep() byte {
	if o == nil || o.Separator == 0 {
		return DefaultSeparator
	}
	return o.Separator
}

func (o *Options) encode(k Key) []byte {
	return []byte(strings.Join(k, string(o.sep())))
}

func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// scanPrefix returns the encoded prefix followed by the separator, so that
// {"a","b"} matches "a:b:c" but not "a:bc". An empty key matches everything.
func (o *Options) scanPrefix(prefix Key) []byte {
	if len(prefix) == 0 {
		return nil
	}
	return append(o.encode(prefix), o.sep())
}

// upperBound returns the smallest key greater than every key with prefix p,
// or nil when p is empty.
func upperBound(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	ub := bytes.Clone(p)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

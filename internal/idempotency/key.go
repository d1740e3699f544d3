// Package idempotency deduplicates write requests keyed by (user, client key).
//
// The first request for a key claims a row inside a transaction and keeps that
// transaction open while the handler does its work; save_response fills in the
// captured HTTP response and commits everything at once. Later requests with the
// same key get the stored response replayed byte for byte.
package idempotency

import "errors"

// MaxKeyLength is the exclusive upper bound on key length, in bytes.
const MaxKeyLength = 50

var (
	ErrEmptyKey   = errors.New("idempotency key cannot be empty")
	ErrKeyTooLong = errors.New("idempotency key must be shorter than 50 characters")
)

// Key is a validated idempotency key.
type Key string

func (k Key) String() string { return string(k) }

// ParseKey validates a client-supplied key.
func ParseKey(raw string) (Key, error) {
	if raw == "" {
		return "", ErrEmptyKey
	}
	if len(raw) >= MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return Key(raw), nil
}

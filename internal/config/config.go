// Package config models the queue's tunables as a tagged record with
// per-key schemas, validated at the set boundary, rather than as an
// untyped key/value blob.
package config

import (
	"fmt"
	"strconv"
)

// Keys recognized by the store's config table.
const (
	KeyMaxRetries     = "max_retries"
	KeyBackoffBase    = "backoff_base"
	KeyBackoffFactor  = "backoff_factor_ms"
	KeyTickInterval   = "tick_interval_ms"
	KeySaveInterval   = "save_interval_ms"
)

// Defaults apply to any key never written to the config table.
var Defaults = map[string]string{
	KeyMaxRetries:    "3",
	KeyBackoffBase:   "2",
	KeyBackoffFactor: "1000",
	KeyTickInterval:  "200",
	KeySaveInterval:  "5000",
}

// validator checks a candidate value for a key and returns the
// canonicalized string to persist.
type validator func(value string) (string, error)

var schema = map[string]validator{
	KeyMaxRetries:    nonNegativeInt,
	KeyBackoffBase:   atLeastOneInt,
	KeyBackoffFactor: nonNegativeInt,
	KeyTickInterval:  minInt(50),
	KeySaveInterval:  minInt(1000),
}

// ErrUnknownKey is returned by Validate for a key outside the schema.
type ErrUnknownKey struct{ Key string }

func (e *ErrUnknownKey) Error() string { return fmt.Sprintf("unknown config key %q", e.Key) }

// Validate checks value against key's schema, returning the canonical
// string form to persist, or an error describing the schema violation.
func Validate(key, value string) (string, error) {
	v, ok := schema[key]
	if !ok {
		return "", &ErrUnknownKey{Key: key}
	}
	return v(value)
}

// Known reports whether key is a recognized config key.
func Known(key string) bool {
	_, ok := schema[key]
	return ok
}

func nonNegativeInt(value string) (string, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("must be an integer: %w", err)
	}
	if n < 0 {
		return "", fmt.Errorf("must be >= 0, got %d", n)
	}
	return strconv.Itoa(n), nil
}

func atLeastOneInt(value string) (string, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("must be an integer: %w", err)
	}
	if n < 1 {
		return "", fmt.Errorf("must be >= 1, got %d", n)
	}
	return strconv.Itoa(n), nil
}

func minInt(min int) validator {
	return func(value string) (string, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("must be an integer: %w", err)
		}
		if n < min {
			return "", fmt.Errorf("must be >= %d, got %d", min, n)
		}
		return strconv.Itoa(n), nil
	}
}

// Snapshot is a typed read of the current config, used by the scheduler
// and retry policy so they never parse strings on the hot path.
type Snapshot struct {
	MaxRetries      int
	BackoffBase     int64
	BackoffFactorMS int64
	TickInterval    int
	SaveInterval    int
}

// FromMap parses a raw key/value map (as read from the store) into a
// typed Snapshot, falling back to Defaults for anything missing.
func FromMap(raw map[string]string) (Snapshot, error) {
	get := func(key string) string {
		if v, ok := raw[key]; ok {
			return v
		}
		return Defaults[key]
	}

	maxRetries, err := strconv.Atoi(get(KeyMaxRetries))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", KeyMaxRetries, err)
	}
	base, err := strconv.ParseInt(get(KeyBackoffBase), 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", KeyBackoffBase, err)
	}
	factor, err := strconv.ParseInt(get(KeyBackoffFactor), 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", KeyBackoffFactor, err)
	}
	tick, err := strconv.Atoi(get(KeyTickInterval))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", KeyTickInterval, err)
	}
	save, err := strconv.Atoi(get(KeySaveInterval))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", KeySaveInterval, err)
	}

	return Snapshot{
		MaxRetries:      maxRetries,
		BackoffBase:     base,
		BackoffFactorMS: factor,
		TickInterval:    tick,
		SaveInterval:    save,
	}, nil
}

package core

import "time"

// wireLayout is the remote representation of a Timestamp. The local side of
// the original data model kept bare strings while the replica held a richer
// timestamp; both are collapsed here into one typed value with total,
// second-exact conversions in each direction.
const wireLayout = time.RFC3339

// Now returns the current instant truncated to wire precision, so that a
// value compares equal before and after a round trip.
func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Second)}
}

// At builds a Timestamp from a time.Time, truncated to wire precision.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

// Wire serializes the timestamp for the replica document. Total: defined
// for every Timestamp, including the zero value.
func (t Timestamp) Wire() string {
	return t.UTC().Truncate(time.Second).Format(wireLayout)
}

// FromWire parses a wire timestamp. FromWire(t.Wire()) == t for every
// Timestamp produced by Now or At.
func FromWire(s string) (Timestamp, error) {
	parsed, err := time.Parse(wireLayout, s)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{parsed.UTC()}, nil
}

// After reports whether t is strictly newer than u.
func (t Timestamp) After(u Timestamp) bool {
	return t.Time.After(u.Time)
}

// Equal reports whether t and u denote the same instant.
func (t Timestamp) Equal(u Timestamp) bool {
	return t.Time.Equal(u.Time)
}

// MarshalJSON encodes the timestamp in wire form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Wire() + `"`), nil
}

// UnmarshalJSON decodes a wire-form timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return &time.ParseError{Layout: wireLayout, Value: string(data), Message: ": not a JSON string"}
	}
	parsed, err := FromWire(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

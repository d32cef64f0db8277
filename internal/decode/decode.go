// Package decode implements the optional pluggable decoder (component B of
// SPEC_FULL.md): turning one raw stream record into one or more payloads.
package decode

import "errors"

// ErrConfigurationUnavailable is returned by construction helpers when a
// decoder capability is requested but no implementation was supplied. Per
// SPEC_FULL.md §7 this surfaces as a ConfigurationError at the façade layer.
var ErrConfigurationUnavailable = errors.New("decode: decoder enabled but no implementation supplied")

// Decoder turns one raw record's bytes into an ordered, non-empty sequence
// of payloads.
type Decoder interface {
	Decode(raw []byte) ([][]byte, error)
}

// Identity is the default Decoder: it returns the raw bytes verbatim as a
// single payload.
type Identity struct{}

func (Identity) Decode(raw []byte) ([][]byte, error) {
	return [][]byte{raw}, nil
}

// Resolve returns d if non-nil, otherwise Identity{} if enabled is false, or
// ErrConfigurationUnavailable if enabled is true and d is nil. This is the
// construction-time check SPEC_FULL.md §4.B/§7 describes: "construction
// fails if the decoder is unavailable" when the capability was requested.
func Resolve(enabled bool, d Decoder) (Decoder, error) {
	if d != nil {
		return d, nil
	}
	if !enabled {
		return Identity{}, nil
	}
	return nil, ErrConfigurationUnavailable
}

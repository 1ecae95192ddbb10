package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// redacted is what every Secret marshaler and formatter emits in place of
// the real value.
const redacted = "[REDACTED]"

// Duration is a time.Duration that unmarshals from the text forms koanf
// hands us ("30s", "5m") and marshals back to the same notation.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler. Negative durations are
// rejected here so every downstream timeout and interval can trust the sign.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Secret holds a credential. It unmarshals from plain config values but
// every marshaler and formatter emits a placeholder, so a Secret cannot
// leak through logs, JSON dumps, or %v formatting. Read the real value
// through Value.
type Secret string

// Value returns the raw secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a non-empty value was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

// masked is the serialized form: empty stays empty so optional secrets
// round-trip as "unset", anything else becomes the placeholder.
func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redacted
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return s.masked()
}

// GoString implements fmt.GoStringer so %#v stays safe too.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.masked()), nil
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.masked())
}

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.masked(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Secret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

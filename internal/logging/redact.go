package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/relevanced/internal/config"
)

// redactedFieldNames are field keys whose values are always hidden,
// compared case-insensitively.
var redactedFieldNames = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"authorization": true,
	"bearer":        true,
	"credential":    true,
	"private_key":   true,
}

// redactedPatterns hide credentials that appear inside otherwise harmless
// string values, e.g. a dumped request header.
var redactedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`),
}

// secretMarshaler wraps config.Secret for zap object marshaling.
type secretMarshaler struct {
	key string
	val config.Secret
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret creates a zap field for a config.Secret that logs only the value's
// length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// redactingEncoder wraps a zapcore.Encoder to redact sensitive fields.
type redactingEncoder struct {
	zapcore.Encoder
}

func newRedactingEncoder(base zapcore.Encoder) *redactingEncoder {
	return &redactingEncoder{Encoder: base}
}

func shouldRedactKey(key string) bool {
	return redactedFieldNames[strings.ToLower(key)]
}

// AddString redacts sensitive field names and value patterns.
func (e *redactingEncoder) AddString(key, val string) {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	for _, re := range redactedPatterns {
		if re.MatchString(val) {
			e.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	e.Encoder.AddString(key, val)
}

// AddByteString redacts sensitive field names.
func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if shouldRedactKey(key) {
		e.Encoder.AddByteString(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddBinary redacts sensitive field names.
func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if shouldRedactKey(key) {
		e.Encoder.AddBinary(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected redacts the entire reflected value when the key is sensitive.
func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddArray redacts sensitive field names.
func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

// AddObject redacts sensitive field names.
func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone creates a copy of the encoder.
func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone()}
}

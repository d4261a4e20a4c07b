// internal/logging/redact.go
package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redaction markers. Tests match on the "[REDACTED" prefix, so every
// marker variant must keep it.
const (
	maskMarker        = "[REDACTED]"
	maskPatternMarker = "[REDACTED:pattern]"
)

// maxPatternLength bounds redaction regexes as a ReDoS guard.
const maxPatternLength = 200

// secretMarshaler renders a config.Secret as a length-only marker so the
// enterprise bearer token can be referenced in logs without appearing.
type secretMarshaler struct {
	key string
	val config.Secret
}

func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, "[REDACTED:"+strconv.Itoa(len(s.val.Value()))+"]")
	return nil
}

// Secret creates a zap field for a config.Secret.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString creates a zap field that logs only the value's length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder and masks fields whose key is
// on the deny list or whose string value matches a secret pattern. It is
// the last line of defense; callers should still prefer Secret and
// RedactedString for values known to be sensitive.
type RedactingEncoder struct {
	zapcore.Encoder
	maskKeys     map[string]struct{}
	maskPatterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the configured redaction rules.
// Disabled redaction passes everything through. Patterns are validated
// here so a bad operator config fails at startup, not mid-request.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = struct{}{}
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLength {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLength, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:      base,
		maskKeys:     keys,
		maskPatterns: patterns,
	}, nil
}

func (e *RedactingEncoder) masked(key string) bool {
	_, ok := e.maskKeys[strings.ToLower(key)]
	return ok
}

// maskValue reports whether a string value matches a secret pattern.
func (e *RedactingEncoder) maskValue(val string) bool {
	for _, re := range e.maskPatterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// AddString masks denied keys and pattern-matching values.
func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.masked(key):
		e.Encoder.AddString(key, maskMarker)
	case e.maskValue(val):
		e.Encoder.AddString(key, maskPatternMarker)
	default:
		e.Encoder.AddString(key, val)
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.masked(key) {
		e.Encoder.AddByteString(key, []byte(maskMarker))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.masked(key) {
		e.Encoder.AddBinary(key, []byte(maskMarker))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks the entire value when the key is denied; reflected
// structures are not inspected field by field.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.masked(key) {
		e.Encoder.AddString(key, maskMarker)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, maskMarker)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, maskMarker)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone copies the encoder; rules are immutable and shared.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		maskKeys:     e.maskKeys,
		maskPatterns: e.maskPatterns,
	}
}

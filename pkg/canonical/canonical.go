// Package canonical produces deterministic JSON encodings and digests used
// for tamper-evident hash chains.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrFloatNotAllowed is returned for non-integer numbers
	ErrFloatNotAllowed = errors.New("canonical: floating point numbers are not allowed")

	// ErrUnsupportedType is returned for values JSON cannot represent
	ErrUnsupportedType = errors.New("canonical: unsupported type")
)

// Marshal encodes v as canonical JSON: object keys sorted, strings NFC
// normalized, no insignificant whitespace. v is first encoded with
// encoding/json so struct tags decide the field names.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return FromJSON(raw)
}

// MarshalWithout is Marshal with the named top-level object keys removed
func MarshalWithout(v any, omit ...string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	generic, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj, ok := generic.(map[string]any); ok {
		for _, key := range omit {
			delete(obj, key)
		}
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromJSON re-encodes raw JSON in canonical form
func FromJSON(raw []byte) ([]byte, error) {
	generic, err := decode(raw)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DigestHex returns the SHA-256 digest of data as lowercase hex
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainDigest returns sha256(prev || payload) as lowercase hex
func ChainDigest(prev string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return v, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, value)
	case json.Number:
		if strings.ContainsAny(value.String(), ".eE") {
			return ErrFloatNotAllowed
		}
		buf.WriteString(value.String())
	case []any:
		buf.WriteByte('[')
		for i, elem := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		return writeObject(buf, value)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	normalized := make(map[string]string, len(obj))
	for key := range obj {
		nk := norm.NFC.String(key)
		keys = append(keys, nk)
		normalized[nk] = key
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, obj[normalized[key]]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

// Package canonical produces the byte encodings that are hashed or signed.
//
// Two encodings matter:
//   - Marshal: compact JSON with object keys sorted at every level and no
//     HTML escaping. Used for transaction sign bytes and identity hashing.
//   - Hash: SHA-256 with domain separation, base58 encoded.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// Marshal encodes v as sorted, compact JSON. Struct field order is not
// preserved; every object is re-emitted with its keys sorted.
func Marshal(v any) ([]byte, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode for canonicalization: %w", err)
	}
	// encoding/json sorts map keys when encoding map[string]any.
	return encode(generic)
}

// Hash computes base58(SHA256(domain || 0x00 || data)).
// The null byte keeps domain and data from running into each other.
func Hash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return base58.Encode(h.Sum(nil))
}

// HashValue canonicalizes v and hashes it under domain.
func HashValue(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return Hash(domain, data), nil
}

// Compact encodes v without HTML escaping and without a trailing newline,
// keeping struct field order.
func Compact(v any) ([]byte, error) {
	return encode(v)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal canonical JSON: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aescanero/runnerd/internal/domain"
)

// ParseEnv turns KEY=VALUE entries into a map. The value is everything after
// the first '=' and may itself contain '='. Later entries override earlier
// ones. Keys and values are kept byte for byte: two spellings of the same
// text are two different environments.
func ParseEnv(env []string) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for _, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("env entry %q is not KEY=VALUE", entry)}
		}
		if key == "" {
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("env entry %q has an empty key", entry)}
		}
		out[key] = value
	}
	return out, nil
}

// FormatEnv renders a map as KEY=VALUE entries sorted by key.
func FormatEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// MergeEnv overlays child on parent; child keys win. The result is sorted.
func MergeEnv(parent, child []string) ([]string, error) {
	merged, err := ParseEnv(parent)
	if err != nil {
		return nil, err
	}
	overlay, err := ParseEnv(child)
	if err != nil {
		return nil, err
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return FormatEnv(merged), nil
}

package config

import (
	"sort"
	"strings"
)

const maskPrefix = "****"

// secretSuffixes mark dotted keys whose values are credentials.
var secretSuffixes = []string{".api_key", ".token"}

// IsSecretKey reports whether the dotted key holds a credential, e.g.
// llm.api_key or telegram.token.
func IsSecretKey(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// Flatten turns {"llm": {"model": "x"}} into {"llm.model": "x"}. Empty
// sections disappear.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		node := out
		for {
			head, rest, nested := strings.Cut(key, ".")
			if !nested {
				node[head] = v
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, key = child, rest
		}
	}
	return out
}

// Keys returns the keys of a flat map in sorted order.
func Keys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with credentials reduced to their last
// four characters. Secrets of four characters or fewer are hidden entirely.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !IsSecretKey(k) || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = Mask(s)
	}
	return out
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return maskPrefix
	}
	return maskPrefix + string(r[len(r)-4:])
}

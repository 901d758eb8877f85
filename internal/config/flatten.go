package config

import (
	"net/url"
	"strings"
)

// secretKeys lists the dot-separated keys whose values carry credentials.
var secretKeys = map[string]bool{
	"database.async_url": true,
	"database.sync_url":  true,
}

// IsSecretKey returns true if the given dot-separated key is a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested YAML maps into dot keys: {"log": {"level": "info"}}
// becomes {"log.level": "info"}. Lists stay as leaf values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	walk("", m, out)
	return out
}

func walk(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			walk(k, child, out)
			continue
		}
		out[k] = v
	}
}

// Unflatten is the inverse of Flatten. A leaf that collides with a deeper
// key is replaced by a map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		set(out, key, v)
	}
	return out
}

func set(m map[string]any, key string, v any) {
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		if _, isMap := m[head].(map[string]any); !isMap {
			m[head] = v
		}
		return
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[head] = child
	}
	set(child, rest, v)
}

// MaskSecrets returns a copy of the flat map with the password of every
// database URL replaced by "xxxxx". Values that do not parse as URLs are
// shown as "***".
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = redactURL(s)
	}
	return out
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}

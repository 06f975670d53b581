package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the JSON object form of a Config, keyed by the json tags.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func fromTree(t tree) (*Config, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetByPath returns the value at a dotted path such as "bot.prefix" or
// "telegram.allowFrom.0".
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = t
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case tree:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			node = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			node = v[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return node, nil
}

// SetByPath assigns value to the leaf at path. String values are converted to
// booleans or numbers when they parse as such; a field that only accepts
// strings still receives the original text.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	t, err := toTree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	section := t
	for _, key := range keys[:len(keys)-1] {
		switch child := section[key].(type) {
		case nil:
			created := tree{}
			section[key] = created
			section = created
		case tree:
			section = child
		default:
			return fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	leaf := keys[len(keys)-1]

	section[leaf] = coerce(value)
	next, err := fromTree(t)
	if s, isString := value.(string); err != nil && isString {
		section[leaf] = s
		next, err = fromTree(t)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = *next
	return nil
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with credentials masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	masked.Matrix.Token = maskString(cfg.Matrix.Token)
	masked.Telegram.Token = maskString(cfg.Telegram.Token)
	masked.Imag.Key = maskString(cfg.Imag.Key)
	return &masked
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dotted paths and their current values.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", t, out)
	return out
}

func flatten(prefix string, t tree, out map[string]any) {
	for k, v := range t {
		if prefix != "" {
			k = prefix + "." + k
		}
		if sub, ok := v.(tree); ok {
			flatten(k, sub, out)
			continue
		}
		out[k] = v
	}
}

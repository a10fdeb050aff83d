package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// rebuildPaths change how chunks are produced or embedded. An index built
// under the old values no longer matches new queries.
var rebuildPaths = []string{
	"corpus.chunkSize",
	"corpus.chunkOverlap",
	"embedding.provider",
	"embedding.model",
	"embedding.dimension",
}

// RequiresRebuild reports whether changing path invalidates an existing
// corpus index.
func RequiresRebuild(path string) bool {
	return slices.Contains(rebuildPaths, path)
}

// GetByPath retrieves a config value by dot-notation path (e.g. "corpus.chunkSize").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath parses value as the type of the field at path and applies it.
// The result must pass Validate; otherwise cfg is left unchanged. New keys
// are accepted only under maps such as providers.<name>.
func SetByPath(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	leaf, err := fieldType(reflect.TypeOf(*cfg), parts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parsed, err := parseAs(leaf, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = parsed

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return err
	}
	if err := Validate(&next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// fieldType resolves a dot path against the JSON names of t's fields.
func fieldType(t reflect.Type, parts []string) (reflect.Type, error) {
	for i, key := range parts {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := fieldByJSONName(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown key %q", strings.Join(parts[:i+1], "."))
			}
			t = f.Type
		case reflect.Map:
			t = t.Elem()
		default:
			return nil, fmt.Errorf("cannot set inside %s", strings.Join(parts[:i], "."))
		}
	}
	if t.Kind() == reflect.Struct || t.Kind() == reflect.Map {
		return nil, fmt.Errorf("not a leaf value")
	}
	return t, nil
}

func fieldByJSONName(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := range t.NumField() {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// parseAs converts a command-line value to the kind of the target field.
// String fields keep the text verbatim, so keys made of digits stay strings.
func parseAs(t reflect.Type, value string) (any, error) {
	switch t.Kind() {
	case reflect.String:
		return value, nil
	case reflect.Bool:
		return strconv.ParseBool(value)
	case reflect.Int, reflect.Int64:
		return strconv.Atoi(value)
	case reflect.Float64:
		return strconv.ParseFloat(value, 64)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			break
		}
		out := []string{}
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		out.Providers[name] = prov
	}
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = maskString(out.Embedding.APIKey)
	}
	if out.Cache.Password != "" {
		out.Cache.Password = "***"
	}
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenMap(path, sub, result)
			continue
		}
		result[path] = v
	}
}

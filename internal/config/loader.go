package config

// Layered file loading and merge: base -> env -> tenant, the same
// tiered-precedence idiom the teacher's config loader applies, cut
// down to one YAML-or-JSON document per tier instead of a generic
// multi-document bundle with its own validator/compiler pipeline.
// Nothing in this repository reads a config shape beyond the flat
// Config struct (config.go), so nothing beyond "read these files, deep-merge
// them in order" survives the trim.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type layeredDocument struct {
	tier string
	path string
	data map[string]any
}

// configExts are tried in order for each tier's base name, the same
// YAML-or-JSON tolerance the teacher's config loader gives operators.
var configExts = []string{".yaml", ".yml", ".json"}

// loadLayers reads root/vehiclecore.{yaml,yml,json}, then
// root/env/<env>/vehiclecore.*, then root/tenants/<tenant>/vehiclecore.*,
// skipping any tier whose file does not exist in any extension.
func loadLayers(root, env, tenant string) ([]layeredDocument, error) {
	type candidate struct{ tier, base string }
	candidates := []candidate{{"base", filepath.Join(root, "vehiclecore")}}
	if env != "" {
		candidates = append(candidates, candidate{"env", filepath.Join(root, "env", env, "vehiclecore")})
	}
	if tenant != "" {
		candidates = append(candidates, candidate{"tenant", filepath.Join(root, "tenants", tenant, "vehiclecore")})
	}

	var docs []layeredDocument
	for _, c := range candidates {
		data, path, err := readFirstExisting(c.base)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", c.base, err)
		}
		if data == nil {
			continue
		}
		docs = append(docs, layeredDocument{tier: c.tier, path: path, data: data})
	}
	return docs, nil
}

// readFirstExisting tries base+ext for each of configExts, returning
// the first file found. A nil map with no error means no tier file
// exists at base, under any extension.
func readFirstExisting(base string) (map[string]any, string, error) {
	for _, ext := range configExts {
		path := base + ext
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		data, err := decodeDocument(path, raw)
		if err != nil {
			return nil, "", err
		}
		return data, path, nil
	}
	return nil, "", nil
}

func decodeDocument(path string, raw []byte) (map[string]any, error) {
	var v map[string]any
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return v, nil
}

// mergeInto deep-merges src over dst, src winning on conflicts. Both
// maps are left untouched; a new map tree is returned.
func mergeInto(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if dm, ok := out[k].(map[string]any); ok {
			if sm, ok := v.(map[string]any); ok {
				out[k] = mergeInto(dm, sm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

const (
	envPrefix    = "VEHICLECORE_"
	envDelimiter = "__"
)

// envOverrides turns VEHICLECORE_FOO__BAR=baz style environment
// variables into a nested map {"foo": {"bar": "baz"}}, the same
// prefix+delimiter scheme the teacher's env-override layer uses.
func envOverrides() map[string]any {
	out := map[string]any{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(parts[0], envPrefix)
		if rest == "" {
			continue
		}
		segs := strings.Split(strings.ToLower(rest), strings.ToLower(envDelimiter))
		setPath(out, segs, parseEnvValue(parts[1]))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func setPath(root map[string]any, segs []string, val any) {
	cur := root
	for i, k := range segs {
		if k == "" {
			return
		}
		if i == len(segs)-1 {
			cur[k] = val
			return
		}
		nxt, ok := cur[k].(map[string]any)
		if !ok {
			nxt = map[string]any{}
			cur[k] = nxt
		}
		cur = nxt
	}
}

func parseEnvValue(s string) any {
	s = strings.TrimSpace(s)
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

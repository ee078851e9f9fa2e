package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sasasavic82/failsafe-go/registry"
)

// Document is a parsed configuration file, indexed kind, then name, then fields.
type Document map[string]map[string]map[string]any

// Load reads, env-expands, and parses a configuration file.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse env-expands and parses configuration bytes.
func Parse(raw []byte) (Document, error) {
	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// envRef matches a $$ escape or a ${VAR} reference. Bare $VAR is left
// alone so values like "US$5" survive untouched.
var envRef = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in the raw document before YAML
// parsing. Every referenced variable must be present in the environment;
// $$ emits a literal dollar.
func expandEnv(raw string) (string, error) {
	missing := make(map[string]struct{})

	out := envRef.ReplaceAllStringFunc(raw, func(ref string) string {
		if ref == "$$" {
			return "$"
		}
		name := ref[2 : len(ref)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing[name] = struct{}{}
			return ref
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("config: undefined environment variables: %s", strings.Join(names, ", "))
	}
	return out, nil
}

// Fields returns the configured field map for one component, nil when
// absent.
func (d Document) Fields(kind, name string) map[string]any {
	names, ok := d[kind]
	if !ok {
		return nil
	}
	return names[name]
}

// Apply pushes every configured component's whitelisted fields onto the
// live patterns in the registry. Unknown kinds, unregistered components,
// and field keys outside a pattern's whitelist are skipped. The returned
// error joins genuine apply failures (invalid values).
func (d Document) Apply(reg *registry.Registry) error {
	var errs []error

	for kindStr, names := range d {
		kind, err := registry.ParseKind(kindStr)
		if err != nil {
			continue
		}
		for name, fields := range names {
			whitelisted, err := whitelistFields(reg, kind, name, fields)
			if err != nil || len(whitelisted) == 0 {
				continue
			}
			if err := reg.UpdateConfig(kind, name, whitelisted); err != nil {
				errs = append(errs, fmt.Errorf("config: %s/%s: %w", kind, name, err))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// whitelistFields drops keys the pattern does not expose, so a forward-
// compatible config file never fails a whole update.
func whitelistFields(reg *registry.Registry, kind registry.Kind, name string, fields map[string]any) (map[string]any, error) {
	snapshot, err := reg.Config(kind, name)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := snapshot[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

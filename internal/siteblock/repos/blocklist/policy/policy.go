// Package policy loads and writes block policy files: a list of sites plus an
// optional block action, in YAML, JSON or TOML.
//
//	sites:
//	  - example.com
//	  - https://news.example.org/politics
//	action:
//	  type: warning
//	  template: stern
//	  continue: https://example.org/
//	deletion_delay: true
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/warning"
)

// ErrUnsupportedFormat is returned for file extensions without a parser.
var ErrUnsupportedFormat = errors.New("unsupported policy format")

// Policy is the content of one policy file.
type Policy struct {
	Source string
	Sites  []string
	// Action is nil when the file does not set one.
	Action domain.BlockAction
	// DeletionDelay asks for the deletion delay to be on. A policy can turn
	// the delay on but never off.
	DeletionDelay bool
}

// parserFor picks the koanf parser for a file extension or format name.
func parserFor(format string) (koanf.Parser, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		return yaml.Parser(), nil
	case "json":
		return json.Parser(), nil
	case "toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// LoadDirectory loads every policy file under dir. Files of other types are
// skipped.
func LoadDirectory(dir string) ([]Policy, error) {
	var out []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, perr := parserFor(filepath.Ext(path)); perr != nil {
			return nil
		}
		p, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("error parsing policy file %s: %w", path, err)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads path as a single file or, when it is a directory, every policy
// file in it.
func Load(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDirectory(path)
	}
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{p}, nil
}

// LoadFile parses one policy file, choosing the parser by extension.
func LoadFile(path string) (Policy, error) {
	parser, err := parserFor(filepath.Ext(path))
	if err != nil {
		return Policy{}, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return Policy{}, fmt.Errorf("failed to load policy file %s: %w", path, err)
	}

	p := Policy{
		Source:        path,
		Sites:         toStringValues(k.Get("sites")),
		DeletionDelay: k.Bool("deletion_delay"),
	}
	if k.Exists("action") {
		a, err := parseAction(k.Cut("action"))
		if err != nil {
			return Policy{}, fmt.Errorf("invalid action in %s: %w", path, err)
		}
		p.Action = a
	}
	return p, nil
}

// toStringValues accepts a single string or a list and drops blank and
// non-string elements.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func parseAction(k *koanf.Koanf) (domain.BlockAction, error) {
	t, err := domain.ParseActionType(k.String("type"))
	if err != nil {
		return nil, err
	}
	switch t {
	case domain.ActionRedirect:
		return domain.RedirectAction{URL: k.String("url")}, nil
	case domain.ActionClose:
		return domain.CloseAction{}, nil
	default:
		id := k.String("template")
		if _, ok := warning.Lookup(id); id != "" && !ok {
			return nil, fmt.Errorf("%q: %w", id, domain.ErrUnknownTemplate)
		}
		return domain.WarningAction{TemplateID: id, ContinueURL: k.String("continue")}, nil
	}
}

// Marshal encodes p in format ("yaml", "json" or "toml").
func Marshal(p Policy, format string) ([]byte, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"sites":          append([]string{}, p.Sites...),
		"deletion_delay": p.DeletionDelay,
	}
	if p.Action != nil {
		m["action"] = actionMap(p.Action)
	}

	k := koanf.New(".")
	// No delimiter: keys are not split on dots.
	if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
		return nil, err
	}
	return k.Marshal(parser)
}

func actionMap(a domain.BlockAction) map[string]any {
	out := map[string]any{"type": string(a.Type())}
	switch v := a.(type) {
	case domain.RedirectAction:
		if v.URL != "" {
			out["url"] = v.URL
		}
	case domain.WarningAction:
		if v.TemplateID != "" {
			out["template"] = v.TemplateID
		}
		if v.ContinueURL != "" {
			out["continue"] = v.ContinueURL
		}
	}
	return out
}

// Package manifest reads declarative patch manifests and turns them into
// splice patches.
//
// A manifest lists entries, each naming a target method and a kind:
//
//	patches:
//	  - method: add
//	    kind: set-arg
//	    index: 0
//	    value: 0
//	    when: args[0] < 0
//
// The same structure can be written in TOML as an array of [[patches]]
// tables.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Kind names what an entry does to its method.
type Kind string

const (
	SetArg           Kind = "set-arg"
	Skip             Kind = "skip"
	SetResult        Kind = "set-result"
	Trace            Kind = "trace"
	ReplaceException Kind = "replace-exception"
	ReplaceConst     Kind = "replace-const"
	RedirectCall     Kind = "redirect-call"
	Recover          Kind = "recover"
)

var kinds = []Kind{SetArg, Skip, SetResult, Trace, ReplaceException, ReplaceConst, RedirectCall, Recover}

// Format is a manifest encoding.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

var ErrUnknownFormat = errors.New("unknown manifest format")

// Manifest is a list of patch entries.
type Manifest struct {
	Patches []Entry `yaml:"patches" toml:"patches"`
}

// Entry is one declarative patch.
type Entry struct {
	// Method is the name of the target method.
	Method string `yaml:"method" toml:"method"`
	Kind   Kind   `yaml:"kind" toml:"kind"`

	Owner    string   `yaml:"owner,omitempty" toml:"owner,omitempty"`
	Priority int      `yaml:"priority,omitempty" toml:"priority,omitempty"`
	Before   []string `yaml:"before,omitempty" toml:"before,omitempty"`
	After    []string `yaml:"after,omitempty" toml:"after,omitempty"`

	// Index is the argument set by set-arg.
	Index int `yaml:"index,omitempty" toml:"index,omitempty"`

	// When is an expr-lang condition. The entry has no effect on calls
	// where it evaluates to false.
	When string `yaml:"when,omitempty" toml:"when,omitempty"`

	// Value is the argument, result or recovery value.
	Value any `yaml:"value,omitempty" toml:"value,omitempty"`

	// From and To are IR constants for replace-const and method names for
	// redirect-call.
	From string `yaml:"from,omitempty" toml:"from,omitempty"`
	To   string `yaml:"to,omitempty" toml:"to,omitempty"`

	// Message is the trace message, or the replacement error for
	// replace-exception. An empty replacement swallows the exception.
	Message string `yaml:"message,omitempty" toml:"message,omitempty"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s", e.Method, e.Kind)
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest

	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case TOML:
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown field %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields each entry's kind requires.
func (m *Manifest) Validate() error {
	var errs []error
	for i, e := range m.Patches {
		if err := e.validate(); err != nil {
			errs = append(errs, fmt.Errorf("patch %d (%s): %w", i, e, err))
		}
	}
	return errors.Join(errs...)
}

func (e Entry) validate() error {
	if e.Method == "" {
		return errors.New("method is required")
	}

	switch e.Kind {
	case SetArg:
		if e.Index < 0 {
			return fmt.Errorf("negative index %d", e.Index)
		}
	case ReplaceConst, RedirectCall:
		if e.From == "" || e.To == "" {
			return errors.New("from and to are required")
		}
	case Skip, SetResult, Trace, ReplaceException, Recover:
	default:
		return fmt.Errorf("unknown kind %q, want one of %v", e.Kind, kinds)
	}

	if e.When != "" {
		switch e.Kind {
		case ReplaceConst, RedirectCall, Recover:
			return fmt.Errorf("%s entries take no condition", e.Kind)
		}
	}
	return nil
}

// Methods returns the target method names in the order they first appear.
func (m *Manifest) Methods() []string {
	var names []string
	seen := map[string]bool{}
	for _, e := range m.Patches {
		if !seen[e.Method] {
			seen[e.Method] = true
			names = append(names, e.Method)
		}
	}
	return names
}

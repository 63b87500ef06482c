// Package profile holds the per-language build and run definitions.
package profile

import (
	"fmt"
	"sort"
	"strings"

	appErr "arenaoj/pkg/errors"

	"github.com/google/shlex"
)

// LanguageSpec describes how one language is compiled and run.
// Commands are plain argv strings split with shell-like quoting; shell
// operators such as && or pipes are not interpreted.
type LanguageSpec struct {
	ID         string `yaml:"id"`
	SourceFile string `yaml:"sourceFile"`
	// Image overrides the executor's default image.
	Image   string `yaml:"image"`
	Compile string `yaml:"compile"`
	Run     string `yaml:"run"`
}

// Compiled reports whether the language has a compile step.
func (l LanguageSpec) Compiled() bool {
	return strings.TrimSpace(l.Compile) != ""
}

// CompileArgv tokenises the compile command.
func (l LanguageSpec) CompileArgv() ([]string, error) {
	if !l.Compiled() {
		return nil, nil
	}
	return split(l.ID, "compile", l.Compile)
}

// RunArgv tokenises the run command.
func (l LanguageSpec) RunArgv() ([]string, error) {
	return split(l.ID, "run", l.Run)
}

// Validate checks required fields and command syntax.
func (l LanguageSpec) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("language id is required")
	}
	if l.SourceFile == "" || strings.ContainsAny(l.SourceFile, `/\`) {
		return fmt.Errorf("language %s: sourceFile must be a plain file name", l.ID)
	}
	if _, err := l.CompileArgv(); err != nil {
		return err
	}
	argv, err := l.RunArgv()
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return fmt.Errorf("language %s: run command is required", l.ID)
	}
	return nil
}

func split(id, stage, raw string) ([]string, error) {
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("language %s: invalid %s command %q: %w", id, stage, raw, err)
	}
	return argv, nil
}

// DefaultLanguages is the built-in language table.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{ID: "c", SourceFile: "submission.c", Compile: "gcc submission.c -O2 -o submission -lm", Run: "./submission"},
		{ID: "cpp", SourceFile: "submission.cpp", Compile: "g++ submission.cpp -O2 -o submission", Run: "./submission"},
		{ID: "py", SourceFile: "submission.py", Run: "python3 submission.py"},
		{ID: "java", SourceFile: "Main.java", Compile: "javac Main.java", Run: "java Main"},
	}
}

// Registry resolves language ids.
type Registry struct {
	languages map[string]LanguageSpec
}

// NewRegistry validates specs and indexes them by id. Later entries override earlier ones.
func NewRegistry(specs []LanguageSpec) (*Registry, error) {
	if len(specs) == 0 {
		specs = DefaultLanguages()
	}
	langs := make(map[string]LanguageSpec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		langs[spec.ID] = spec
	}
	return &Registry{languages: langs}, nil
}

// Get returns the spec for id.
func (r *Registry) Get(id string) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id)
	}
	return lang, nil
}

// IDs lists the configured language ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.languages))
	for id := range r.languages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

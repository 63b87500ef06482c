package command

import (
	"fmt"
	"os"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldFile
)

// fileMarker stands in for a value that will be read from a file field.
const fileMarker = "_file_"

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	// FromFile names the file field that may supply this value.
	FromFile string
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Usage        string
	Fields       []Field
}

// Key is the registry key, "<service> <action>".
func (c Command) Key() string {
	return fmt.Sprintf("%s %s", c.Service, c.Action)
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs turns key=value tokens into Params.
func ParseArgs(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	return params, nil
}

// MarkFileBacked sets the file marker on values whose file field is given,
// so the prompt step skips them.
func MarkFileBacked(cmd Command, params Params) {
	for _, field := range cmd.Fields {
		if field.FromFile == "" {
			continue
		}
		if params.Get(field.FromFile) != "" && params.Get(field.Name) == "" {
			params.Set(field.Name, fileMarker)
		}
	}
}

// Missing lists the required fields that still need a value.
func Missing(cmd Command, params Params) []Field {
	var out []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			out = append(out, field)
		}
	}
	return out
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

// Package prompt renders prompt templates and parses the result into chat messages.
//
// A template is rendered with a Jinja-compatible engine and may then declare a conversation
// with role markers:
//
//	[# system #]
//	You are a smart assistant.
//	[# user #]
//	Here is an image:
//	[# blob {{ image_path }} #]
//	[# assistant #]
//	[# tool_call: lookup (call_1) #]
//	{"q": "x"}
//	[# tool_result: call_1 #]
//	found
//
// A template without role markers is a single user turn.
package prompt

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/flosch/pongo2/v6"

	"github.com/aschepis/bpmai/llm"
)

// Extension is the file extension of prompt templates.
const Extension = ".prompt"

// Prompt is an immutable template plus the variables it is rendered with.
type Prompt struct {
	fsys     fs.FS
	dir      string
	name     string
	template string
	vars     map[string]any
}

// FromFile returns a prompt backed by <name>.prompt on disk. name is a path without the
// extension, e.g. "prompts/decide". A provider-specific <name>.<provider>.prompt takes
// precedence when Format is called with that provider.
func FromFile(name string, vars map[string]any) *Prompt {
	dir, base := filepath.Split(name)
	dir = filepath.Clean(dir)
	return &Prompt{fsys: os.DirFS(dir), dir: dir, name: base, vars: vars}
}

// FromFS is like FromFile but resolves templates in fsys, e.g. an embed.FS.
func FromFS(fsys fs.FS, name string, vars map[string]any) *Prompt {
	return &Prompt{fsys: fsys, name: name, vars: vars}
}

// FromString returns a prompt for an inline template.
func FromString(template string, vars map[string]any) *Prompt {
	return &Prompt{template: template, vars: vars}
}

// Format renders the prompt for provider and parses the result into messages.
func (p *Prompt) Format(provider string) ([]llm.Message, error) {
	rendered, err := p.Render(provider)
	if err != nil {
		return nil, err
	}
	return Parse(rendered)
}

// Render returns the rendered template text before marker parsing.
func (p *Prompt) Render(provider string) (string, error) {
	source := p.template
	if p.fsys != nil {
		var err error
		source, err = p.load(provider)
		if err != nil {
			return "", err
		}
	}
	return render(source, p.vars)
}

func (p *Prompt) load(provider string) (string, error) {
	candidate := p.name + Extension
	if provider != "" {
		specific := p.name + "." + provider + Extension
		if _, err := fs.Stat(p.fsys, specific); err == nil {
			candidate = specific
		}
	}
	data, err := fs.ReadFile(p.fsys, candidate)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &TemplateNotFoundError{Path: filepath.Join(p.dir, candidate)}
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func render(source string, vars map[string]any) (string, error) {
	tpl, err := pongo2.FromString("{% autoescape off %}" + source + "{% endautoescape %}")
	if err != nil {
		return "", &TemplateFormatError{Reason: "template syntax", Err: err}
	}
	out, err := tpl.Execute(pongo2.Context(vars))
	if err != nil {
		return "", &TemplateFormatError{Reason: "template execution", Err: err}
	}
	return out, nil
}

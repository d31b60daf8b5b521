// Package templates renders the optional page key template. The template
// receives the folder, the image name and the default joined path, and may
// use any Sprig helper except those that reach the environment or filesystem:
//
//	{{ .Folder | lower }}/{{ .Image }}
//	{{ .Path | sha256sum }}
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// PageKeyData is the template input for one page.
type PageKeyData struct {
	Folder string
	Image  string
	// Path is the normalized folder/image join used when no template is set.
	Path string
}

// Renderer compiles templates with a restricted Sprig function map.
type Renderer struct {
	funcs template.FuncMap
}

// Template is a parsed template. It may be executed concurrently.
type Template struct {
	name string
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// Compile parses source. A blank source yields a nil Template and no error.
func (r *Renderer) Compile(name, source string) (*Template, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	if name == "" {
		name = "template"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// PageKeyFunc compiles source into a page key function. An empty source
// yields a function returning the default path unchanged. Rendered keys are
// trimmed; a template rendering to nothing falls back to the default path.
func (r *Renderer) PageKeyFunc(source string) (func(PageKeyData) (string, error), error) {
	tmpl, err := r.Compile("pageKey", source)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return func(data PageKeyData) (string, error) { return data.Path, nil }, nil
	}
	return func(data PageKeyData) (string, error) {
		if data.Path == "" {
			return "", nil
		}
		out, err := tmpl.Render(data)
		if err != nil {
			return "", err
		}
		if key := strings.TrimSpace(out); key != "" {
			return key, nil
		}
		return data.Path, nil
	}, nil
}

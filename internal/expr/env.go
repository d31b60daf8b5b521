// Package expr compiles CEL predicates over cached pages, used to clear a
// subset of the page cache in one call, e.g.
//
//	page.folder.startsWith("/manga/vol1") && page.ageSeconds > 86400
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// PageFacts is the per-page view a selector evaluates against.
type PageFacts struct {
	Path         string
	Folder       string
	Image        string
	AgeSeconds   int64
	Detected     int
	Custom       int
	Selected     int
	Analyses     []string
	Translations []string
}

func (f PageFacts) activation() map[string]any {
	return map[string]any{
		"page": map[string]any{
			"path":         f.Path,
			"folder":       f.Folder,
			"image":        f.Image,
			"ageSeconds":   f.AgeSeconds,
			"detected":     int64(f.Detected),
			"custom":       int64(f.Custom),
			"selected":     int64(f.Selected),
			"analyses":     nonNil(f.Analyses),
			"translations": nonNil(f.Translations),
		},
	}
}

// Environment builds and compiles CEL programs against cached page facts.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to page selectors.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("page", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Selector is a compiled boolean page predicate.
type Selector struct {
	source  string
	program cel.Program
}

// Compile prepares the selector, ensuring the expression yields a boolean.
func (e *Environment) Compile(expression string) (Selector, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Selector{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Selector{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Selector{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Selector{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Selector{source: expr, program: program}, nil
}

// Match evaluates the selector for one page.
func (s Selector) Match(facts PageFacts) (bool, error) {
	if s.program == nil {
		return false, fmt.Errorf("expr: selector not initialized")
	}
	val, _, err := s.program.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", s.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", s.source, val)
}

// Source is the expression as written.
func (s Selector) Source() string { return s.source }

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found || value == nil {
		return types.NullValue
	}
	return value
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

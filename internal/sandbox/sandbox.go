// Package sandbox evaluates compiled template modules in an isolated scope.
//
// Module source is HCL native syntax. Top-level attributes are exports
// evaluated immediately; `function "<name>"` blocks export template
// functions that are evaluated on every call. Expressions only see the
// variables and functions registered on the Sandbox, so a template has
// no access to the process environment, the filesystem or the network.
package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/loader"
)

// ExportMarker prefixes every module produced by the child compilation.
// Evaluate strips it before parsing.
const ExportMarker = "var TEMPLATE_RESULT ="

const (
	defaultExport  = "default"
	esModuleExport = "__esModule"
	functionBlock  = "function"
)

// Result is the value a template module evaluated to: either static html
// or a template function.
type Result struct {
	HTML string
	Func *Function
}

// IsFunc reports whether the module exported a template function.
func (r Result) IsFunc() bool {
	return r.Func != nil
}

// Sandbox holds the whitelisted globals, functions and modules visible to
// template code.
type Sandbox struct {
	globals   map[string]cty.Value
	modules   map[string]cty.Value
	functions map[string]function.Function
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithGlobal exposes a variable to every template expression.
func WithGlobal(name string, value cty.Value) Option {
	return func(s *Sandbox) {
		s.globals[name] = value
	}
}

// WithModule makes value resolvable through require(name).
func WithModule(name string, value cty.Value) Option {
	return func(s *Sandbox) {
		s.modules[name] = value
	}
}

// New creates a sandbox with the default whitelist.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		globals: map[string]cty.Value{
			"HTML_FORGE": cty.True,
		},
		modules: defaultModules(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.functions = whitelist(s.modules)
	return s
}

var defaultSandbox = New()

// Evaluate runs source in the default sandbox.
func Evaluate(source, label string) (Result, error) {
	return defaultSandbox.Evaluate(source, label)
}

// Evaluate parses and executes module source. label names the template
// in diagnostics.
func (s *Sandbox) Evaluate(source, label string) (result Result, err error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, ferrors.NewTemplateExecutionError(label,
			fmt.Errorf("the child compilation didn't provide a result"))
	}

	src := strings.Replace(source, ExportMarker, "", 1)

	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = ferrors.NewTemplateExecutionError(label, fmt.Errorf("panic: %v", r))
		}
	}()

	file, diags := hclsyntax.ParseConfig([]byte(src), label, hcl.InitialPos)
	if diags.HasErrors() {
		return Result{}, executionError(src, label, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return Result{}, ferrors.NewTemplateExecutionError(label, fmt.Errorf("unexpected module body %T", file.Body))
	}

	exports, err := s.evaluateExports(body, src, label)
	if err != nil {
		return Result{}, err
	}

	value, ok := exports[defaultExport]
	if !ok {
		return Result{}, ferrors.NewInvalidTemplateResultError(label, describeExports(exports))
	}

	switch v := value.(type) {
	case *Function:
		return Result{Func: v}, nil
	case cty.Value:
		if v.Type() == cty.String && v.IsKnown() && !v.IsNull() {
			return Result{HTML: v.AsString()}, nil
		}
		return Result{}, ferrors.NewInvalidTemplateResultError(label, v.Type().FriendlyName())
	default:
		return Result{}, ferrors.NewInvalidTemplateResultError(label, fmt.Sprintf("%T", value))
	}
}

// evaluateExports evaluates top-level attributes and collects function
// blocks. Values are either cty.Value or *Function.
func (s *Sandbox) evaluateExports(body *hclsyntax.Body, src, label string) (map[string]interface{}, error) {
	exports := make(map[string]interface{}, len(body.Attributes)+len(body.Blocks))
	ectx := s.evalContext(nil)

	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, diags := body.Attributes[name].Expr.Value(ectx)
		if diags.HasErrors() {
			return nil, executionError(src, label, diags)
		}
		exports[name] = v
	}

	for _, block := range body.Blocks {
		if block.Type != functionBlock || len(block.Labels) != 1 {
			return nil, ferrors.NewTemplateExecutionError(label,
				fmt.Errorf("%s: unsupported block %q", block.DefRange().String(), block.Type))
		}
		fn, err := s.newFunction(block, src, label)
		if err != nil {
			return nil, err
		}
		exports[block.Labels[0]] = fn
	}

	return exports, nil
}

// executionError reports diags at their template positions when src came
// from the template loader, and at module positions otherwise.
func executionError(src, label string, diags hcl.Diagnostics) *ferrors.PipelineError {
	mapped := make(hcl.Diagnostics, 0, len(diags))
	line, column := 0, 0
	for _, d := range diags {
		if d.Subject != nil {
			if l, c, ok := loader.Locate(src, d.Subject.Start.Byte); ok {
				cp := *d
				pos := hcl.Pos{Line: l, Column: c, Byte: -1}
				cp.Subject = &hcl.Range{Filename: d.Subject.Filename, Start: pos, End: pos}
				cp.Context = nil
				d = &cp
				if line == 0 {
					line, column = l, c
				}
			}
		}
		mapped = append(mapped, d)
	}

	err := ferrors.NewTemplateExecutionError(label, mapped)
	if line > 0 {
		err = err.WithLocation(label, line, column)
	}
	return err
}

func (s *Sandbox) evalContext(params map[string]cty.Value) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(s.globals)+len(params))
	for k, v := range s.globals {
		vars[k] = v
	}
	for k, v := range params {
		vars[k] = v
	}
	return &hcl.EvalContext{
		Variables: vars,
		Functions: s.functions,
	}
}

func describeExports(exports map[string]interface{}) string {
	names := make([]string, 0, len(exports))
	for name := range exports {
		if name == esModuleExport {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "an empty module"
	}
	return "a module exporting " + strings.Join(names, ", ")
}

// Function is a template function exported by a module.
type Function struct {
	name    string
	label   string
	source  string
	param   string
	result  hcl.Expression
	sandbox *Sandbox
}

func (s *Sandbox) newFunction(block *hclsyntax.Block, src, label string) (*Function, error) {
	fn := &Function{
		name:    block.Labels[0],
		label:   label,
		source:  src,
		sandbox: s,
	}

	resultAttr, ok := block.Body.Attributes["result"]
	if !ok {
		return nil, ferrors.NewTemplateExecutionError(label,
			fmt.Errorf("function %q has no result", fn.name))
	}
	fn.result = resultAttr.Expr

	if paramsAttr, ok := block.Body.Attributes["params"]; ok {
		v, diags := paramsAttr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, executionError(src, label, diags)
		}
		if v.Type() != cty.String || v.IsNull() {
			return nil, ferrors.NewTemplateExecutionError(label,
				fmt.Errorf("function %q: params must be a string", fn.name))
		}
		fn.param = v.AsString()
	}

	return fn, nil
}

// Name returns the export name of the function.
func (f *Function) Name() string {
	return f.name
}

// Render calls the template with params. Each top-level key of params is
// visible as a bare identifier.
func (f *Function) Render(params map[string]interface{}) (out string, err error) {
	obj, err := ToValue(params)
	if err != nil {
		return "", fmt.Errorf("template parameters: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = ferrors.NewTemplateExecutionError(f.label, fmt.Errorf("panic: %v", r))
		}
	}()

	vars := make(map[string]cty.Value, len(params)+1)
	if obj.Type().IsObjectType() {
		for k, v := range obj.AsValueMap() {
			vars[k] = v
		}
	}
	if f.param != "" {
		vars[f.param] = obj
	}

	out, diags := render(f.result, f.sandbox.evalContext(vars))
	if diags.HasErrors() {
		return "", executionError(f.source, f.label, diags)
	}
	return out, nil
}

// render evaluates a template expression to text. Interpolations that
// evaluate to null render as the empty string; unknown identifiers and
// values with no string form are still errors.
func render(expr hcl.Expression, ectx *hcl.EvalContext) (string, hcl.Diagnostics) {
	switch e := expr.(type) {
	case *hclsyntax.TemplateExpr:
		var b strings.Builder
		var diags hcl.Diagnostics
		for _, part := range e.Parts {
			s, partDiags := interpolate(part, ectx)
			diags = append(diags, partDiags...)
			b.WriteString(s)
		}
		if diags.HasErrors() {
			return "", diags
		}
		return b.String(), diags
	case *hclsyntax.TemplateWrapExpr:
		return interpolate(e.Wrapped, ectx)
	default:
		return interpolate(expr, ectx)
	}
}

func interpolate(expr hcl.Expression, ectx *hcl.EvalContext) (string, hcl.Diagnostics) {
	v, diags := expr.Value(ectx)
	if diags.HasErrors() {
		return "", diags
	}
	if v.IsNull() {
		return "", diags
	}
	if !v.IsWhollyKnown() {
		return "", append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid template interpolation value",
			Detail:   "The expression result is not known.",
			Subject:  expr.Range().Ptr(),
		})
	}
	str, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid template interpolation value",
			Detail:   fmt.Sprintf("Cannot include %s in the template: %s.", v.Type().FriendlyName(), err),
			Subject:  expr.Range().Ptr(),
		})
	}
	return str.AsString(), diags
}

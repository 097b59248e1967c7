package sandbox

import (
	"fmt"
	"html"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/conneroisu/htmlforge/internal/version"
)

// whitelist returns the only functions template expressions may call.
func whitelist(modules map[string]cty.Value) map[string]function.Function {
	return map[string]function.Function{
		"upper":      stdlib.UpperFunc,
		"lower":      stdlib.LowerFunc,
		"title":      stdlib.TitleFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"join":       stdlib.JoinFunc,
		"split":      stdlib.SplitFunc,
		"format":     stdlib.FormatFunc,
		"replace":    stdlib.ReplaceFunc,
		"length":     stdlib.LengthFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"keys":       stdlib.KeysFunc,
		"escape":     escapeFunc,
		"require":    requireFunc(modules),
	}
}

var escapeFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "str", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(html.EscapeString(args[0].AsString())), nil
	},
})

// requireFunc resolves a module name against an explicit table. Unknown
// names are errors; nothing is ever loaded from disk.
func requireFunc(modules map[string]cty.Value) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "name", Type: cty.String},
		},
		Type: func(args []cty.Value) (cty.Type, error) {
			if !args[0].IsKnown() {
				return cty.DynamicPseudoType, nil
			}
			mod, ok := modules[args[0].AsString()]
			if !ok {
				return cty.NilType, function.NewArgErrorf(0, "module %q is not available in the template sandbox", args[0].AsString())
			}
			return mod.Type(), nil
		},
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			mod, ok := modules[args[0].AsString()]
			if !ok {
				return cty.NilVal, fmt.Errorf("module %q is not available in the template sandbox", args[0].AsString())
			}
			return mod, nil
		},
	})
}

func defaultModules() map[string]cty.Value {
	return map[string]cty.Value{
		"htmlforge/version": cty.ObjectVal(map[string]cty.Value{
			"version": cty.StringVal(version.GetVersion()),
			"commit":  cty.StringVal(version.GetGitCommit()),
		}),
	}
}

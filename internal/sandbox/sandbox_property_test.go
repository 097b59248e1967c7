//go:build property

package sandbox

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/htmlforge/internal/loader"
)

func TestLiteralTextProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	literal := gen.AnyString().SuchThat(func(s string) bool {
		return !strings.Contains(s, "<%=")
	})

	properties.Property("compiled templates render literal text verbatim", prop.ForAll(
		func(text string) bool {
			src, err := loader.Load(text)
			if err != nil {
				return false
			}
			res, err := Evaluate(ExportMarker+" "+src, "property.html")
			if err != nil || !res.IsFunc() {
				return false
			}
			out, err := res.Func.Render(map[string]interface{}{})
			return err == nil && out == text
		},
		literal,
	))

	properties.Property("passthrough modules export their text", prop.ForAll(
		func(text string) bool {
			res, err := Evaluate(ExportMarker+" "+loader.Passthrough(text), "raw.html")
			return err == nil && !res.IsFunc() && res.HTML == text
		},
		gen.AnyString(),
	))

	properties.Property("interpolations between literals", prop.ForAll(
		func(before, after, title string) bool {
			src, err := loader.Load(before + "<%= title %>" + after)
			if err != nil {
				return false
			}
			res, err := Evaluate(src, "interp.html")
			if err != nil || !res.IsFunc() {
				return false
			}
			out, err := res.Func.Render(map[string]interface{}{"title": title})
			return err == nil && out == before+title+after
		},
		literal, literal, gen.AlphaString(),
	))

	properties.TestingRun(t)
}

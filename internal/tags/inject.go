package tags

import (
	"regexp"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
)

var (
	bodyClose = regexp.MustCompile(`</body\s*>`)
	headClose = regexp.MustCompile(`</head\s*>`)
)

// Renderer produces html from template parameters.
type Renderer interface {
	Render(params map[string]interface{}) (string, error)
}

// StaticHTML is a template that ignores its parameters.
type StaticHTML string

// Render implements Renderer.
func (s StaticHTML) Render(map[string]interface{}) (string, error) {
	return string(s), nil
}

// Execute renders tpl with params. Static html is returned unchanged;
// a failing template function is reported as a template params error.
func Execute(tpl Renderer, params map[string]interface{}, template string) (string, error) {
	if s, ok := tpl.(StaticHTML); ok {
		return string(s), nil
	}
	out, err := tpl.Render(params)
	if err != nil {
		return "", ferrors.NewTemplateParamsError(template, err)
	}
	return out, nil
}

// Inject splices tags immediately before the first closing body tag. A
// document without one is returned unchanged.
func Inject(doc string, tags []Descriptor) string {
	return spliceBefore(bodyClose, doc, tags)
}

// InjectHead splices tags immediately before the first closing head tag.
func InjectHead(doc string, tags []Descriptor) string {
	return spliceBefore(headClose, doc, tags)
}

// InjectGroups applies both InjectHead and Inject.
func InjectGroups(doc string, g Groups) string {
	return Inject(InjectHead(doc, g.HeadTags), g.BodyTags)
}

func spliceBefore(marker *regexp.Regexp, doc string, tags []Descriptor) string {
	if len(tags) == 0 {
		return doc
	}
	loc := marker.FindStringIndex(doc)
	if loc == nil {
		return doc
	}
	return doc[:loc[0]] + Serialize(tags) + doc[loc[0]:]
}

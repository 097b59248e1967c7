package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeState struct {
	files map[string][]string
}

func (f fakeState) EntrypointFiles(name string) []string { return f.files[name] }
func (f fakeState) PublicPath() string                    { return "/" }

func TestResolveOrdersByEntryThenFile(t *testing.T) {
	state := fakeState{files: map[string][]string{
		"A": {"a.js", "a.css"},
		"B": {"b.js"},
	}}

	m := Resolve(state, []string{"A", "B"})
	assert.Equal(t, []string{"a.js", "b.js"}, m.JS)
	assert.Equal(t, []string{"a.css"}, m.CSS)
	assert.Equal(t, "/", m.PublicPath)

	m = Resolve(state, []string{"B", "A"})
	assert.Equal(t, []string{"b.js", "a.js"}, m.JS)
}

func TestResolveFiltersAndNormalizes(t *testing.T) {
	state := fakeState{files: map[string][]string{
		"app": {"app.mjs", "app.js?v=3", "app.js.map", "logo.png", "theme.css?h=1"},
	}}

	m := Resolve(state, []string{"app", "missing"})
	assert.Equal(t, []string{"app.mjs", "app.js?v=3"}, m.JS)
	assert.Equal(t, []string{"theme.css?h=1"}, m.CSS)
}

func TestResolveEmpty(t *testing.T) {
	m := Resolve(fakeState{}, nil)
	assert.Empty(t, m.JS)
	assert.NotNil(t, m.JS)
	assert.Empty(t, m.CSS)
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"main.js":      "js",
		"main.mjs":     "js",
		"style.css":    "css",
		"style.css?x":  "css",
		"main.jsx":     "",
		"readme.md":    "",
		"vendor.js.gz": "",
	}
	for file, want := range tests {
		assert.Equal(t, want, Extension(file), file)
	}
}

package loader

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
)

func TestLoadInterpolation(t *testing.T) {
	src, err := Load("<p><%= title %></p>")
	require.NoError(t, err)

	expected := "function \"default\" {\n" +
		"  params = \"templateParams\"\n" +
		"  result = \"<p>${title}</p>\"\n" +
		"}\n" +
		"# template positions: 5+5@1:8\n"
	assert.Equal(t, expected, src)
}

func TestLoadDollarBeforeInterpolation(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Price: $<%= price %>", `result = "Price: ${"$"}${price}"`},
		{"$$<%= price %>", `result = "${"$$"}${price}"`},
		{"a${b} $<%= price %>", `result = "a$${b} ${"$"}${price}"`},
		{"100%<%= unit %>", `result = "100%${unit}"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			src, err := Load(tt.input)
			require.NoError(t, err)
			assert.Contains(t, src, tt.expected)
		})
	}
}

func TestLocate(t *testing.T) {
	src, err := Load("<html>\n  <p><%= a %></p>\n  <%=\n    b.c %>\n</html>")
	require.NoError(t, err)

	body := strings.Index(src, resultPrefix) + len(resultPrefix)
	a := body + strings.Index(src[body:], "${a}") + 2
	bc := body + strings.Index(src[body:], "${b.c}") + 2

	line, col, ok := Locate(src, a)
	require.True(t, ok)
	assert.Equal(t, 2, line)
	assert.Equal(t, 10, col)

	line, col, ok = Locate(src, bc+3)
	require.True(t, ok)
	assert.Equal(t, 4, line)
	assert.Equal(t, 5, col)

	_, _, ok = Locate(src, body)
	assert.False(t, ok, "literal text has no template expression")

	_, _, ok = Locate(Passthrough("<b></b>"), 3)
	assert.False(t, ok)
}

func TestLoadEscapesLiteralText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quotes", `<a href="x">`, `<a href=\"x\">`},
		{"backslash", `C:\dir`, `C:\\dir`},
		{"newline", "a\nb", `a\nb`},
		{"template sequences", "${x} %{y}", "$${x} %%{y}"},
		{"lone dollar", "$5 and 100%", "$5 and 100%"},
		{"other markers", "<% if (x) { %>", "<% if (x) { %>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeLiteral(tt.input))
		})
	}
}

func TestLoadMultilineExpression(t *testing.T) {
	src, err := Load("<%=\n  htmlWebpackPlugin\n  .options.title\n%>")
	require.NoError(t, err)
	assert.Contains(t, src, `result = "${htmlWebpackPlugin   .options.title}"`)
}

func TestLoadNonGreedy(t *testing.T) {
	src, err := Load("<%= a %>-<%= b %>")
	require.NoError(t, err)
	assert.Contains(t, src, `result = "${a}-${b}"`)
}

func TestLoadSyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		line   int
		column int
	}{
		{"unclosed", "<html>\n  <%= title", 2, 3},
		{"nested", "<%= a <%= b %>", 1, 7},
		{"empty", "x<%=   %>", 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ferrors.ErrTemplateSyntax))

			var pe *ferrors.PipelineError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
			assert.Equal(t, tt.column, pe.Column)
		})
	}
}

func TestStrayCloseMarkerIsLiteral(t *testing.T) {
	src, err := Load("50 %> done")
	require.NoError(t, err)
	assert.Contains(t, src, `result = "50 %> done"`)
}

func TestPassthrough(t *testing.T) {
	assert.Equal(t, "default = \"<b>$${raw}</b>\\n\"\n", Passthrough("<b>${raw}</b>\n"))
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/index.html", []byte("<%= title %>"), 0o644))

	src, err := LoadFile(fs, "/site/index.html")
	require.NoError(t, err)
	assert.Contains(t, src, "${title}")

	_, err = LoadFile(fs, "/site/missing.html")
	assert.True(t, errors.Is(err, ferrors.ErrIO))

	require.NoError(t, afero.WriteFile(fs, "/site/broken.html", []byte("<%= oops"), 0o644))
	_, err = LoadFile(fs, "/site/broken.html")
	var pe *ferrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "/site/broken.html", pe.Template)
}

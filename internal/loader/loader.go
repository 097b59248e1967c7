// Package loader turns an HTML template into a compiled template module.
//
// Templates use one marker, <%= expr %>, which may span lines. Every other
// marker syntax is kept as literal text. The compiled module is written in
// the sandbox module language (HCL native syntax) and exports a single
// template function named "default":
//
//	function "default" {
//	  params = "templateParams"
//	  result = "<html>...${htmlWebpackPlugin.options.title}...</html>"
//	}
//
// When the function is called with a parameter object, each property of
// the object is a bare identifier inside the template and the whole object
// is reachable as templateParams.
//
// A trailing comment maps every interpolation back to its line and column
// in the template, so diagnostics raised while evaluating the module can
// point at the template instead of the generated source:
//
//	# template positions: 3+5@1:7
package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
)

const (
	openMarker  = "<%="
	closeMarker = "%>"

	// ParamsName names the parameter object inside compiled templates.
	ParamsName = "templateParams"

	resultPrefix = "  result = \""
	positionsTag = "# template positions:"
)

// span records where the expression of one interpolation starts in the
// template body and in the template file.
type span struct {
	offset int
	length int
	line   int
	column int
}

// Load compiles template text into module source.
func Load(text string) (string, error) {
	body, spans, err := compileTemplate(text)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("function \"default\" {\n")
	b.WriteString("  params = \"" + ParamsName + "\"\n")
	b.WriteString(resultPrefix)
	b.WriteString(body)
	b.WriteString("\"\n}\n")
	if len(spans) > 0 {
		b.WriteString(positionsTag)
		for _, sp := range spans {
			fmt.Fprintf(&b, " %d+%d@%d:%d", sp.offset, sp.length, sp.line, sp.column)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// LoadFile reads path from fs and compiles it.
func LoadFile(fs afero.Fs, path string) (string, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", ferrors.NewIOError("TEMPLATE_READ", "failed to read template "+path, err)
	}
	src, err := Load(string(raw))
	if err != nil {
		return "", withTemplate(err, path)
	}
	return src, nil
}

// Passthrough produces a module whose default export is text itself,
// with no interpolation.
func Passthrough(text string) string {
	return "default = \"" + escapeLiteral(text) + "\"\n"
}

func compileTemplate(text string) (string, []span, error) {
	var b strings.Builder
	b.Grow(len(text) + 16)
	var spans []span

	pos := 0
	for {
		start := strings.Index(text[pos:], openMarker)
		if start < 0 {
			b.WriteString(escapeLiteral(text[pos:]))
			return b.String(), spans, nil
		}
		start += pos
		writeLiteralBeforeInterp(&b, text[pos:start])

		exprStart := start + len(openMarker)
		end := strings.Index(text[exprStart:], closeMarker)
		if end < 0 {
			line, col := position(text, start)
			return "", nil, ferrors.NewTemplateSyntaxError(line, col, "unclosed <%= interpolation")
		}
		end += exprStart

		inner := text[exprStart:end]
		if nested := strings.Index(inner, openMarker); nested >= 0 {
			line, col := position(text, exprStart+nested)
			return "", nil, ferrors.NewTemplateSyntaxError(line, col, "nested <%= inside an interpolation")
		}

		expr := normalizeExpr(inner)
		if expr == "" {
			line, col := position(text, start)
			return "", nil, ferrors.NewTemplateSyntaxError(line, col, "empty interpolation")
		}

		b.WriteString("${")
		line, col := position(text, exprStart+leadingSpace(inner))
		spans = append(spans, span{offset: b.Len(), length: len(expr), line: line, column: col})
		b.WriteString(expr)
		b.WriteString("}")

		pos = end + len(closeMarker)
	}
}

// writeLiteralBeforeInterp writes a literal run that is directly followed
// by an interpolation. Trailing dollars would join the generated "${" into
// an escape sequence, so they are written as a quoted string
// interpolation instead.
func writeLiteralBeforeInterp(b *strings.Builder, lit string) {
	trimmed := strings.TrimRight(lit, "$")
	b.WriteString(escapeLiteral(trimmed))
	if n := len(lit) - len(trimmed); n > 0 {
		b.WriteString(`${"` + strings.Repeat("$", n) + `"}`)
	}
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\r\n"))
}

// normalizeExpr folds line breaks so a multi-line expression fits in a
// single quoted template.
func normalizeExpr(expr string) string {
	expr = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(expr)
	return strings.TrimSpace(expr)
}

// escapeLiteral quotes text for an HCL quoted template so that it renders
// verbatim.
func escapeLiteral(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$', '%':
			if i+1 < len(text) && text[i+1] == '{' {
				b.WriteByte(c)
			}
			b.WriteByte(c)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

// position converts a byte offset into a 1-based line and column.
func position(text string, offset int) (int, int) {
	line := 1 + strings.Count(text[:offset], "\n")
	lastNL := strings.LastIndex(text[:offset], "\n")
	return line, offset - lastNL
}

// Locate maps a byte offset in module source produced by Load back to the
// line and column of the template expression it falls in. It reports false
// for offsets outside every interpolation and for modules without a
// position map.
func Locate(source string, offset int) (line, column int, ok bool) {
	bodyStart := strings.Index(source, resultPrefix)
	tag := strings.LastIndex(source, positionsTag)
	if bodyStart < 0 || tag < 0 {
		return 0, 0, false
	}
	rel := offset - (bodyStart + len(resultPrefix))

	rest := source[tag+len(positionsTag):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	for _, field := range strings.Fields(rest) {
		sp, err := parseSpan(field)
		if err != nil {
			return 0, 0, false
		}
		// The closing brace belongs to the interpolation too.
		if rel >= sp.offset && rel <= sp.offset+sp.length {
			return sp.line, sp.column, true
		}
	}
	return 0, 0, false
}

// parseSpan reads one "offset+length@line:column" entry.
func parseSpan(field string) (span, error) {
	var sp span
	rangePart, posPart, ok := strings.Cut(field, "@")
	if !ok {
		return sp, fmt.Errorf("malformed position %q", field)
	}
	off, length, ok1 := strings.Cut(rangePart, "+")
	line, col, ok2 := strings.Cut(posPart, ":")
	if !ok1 || !ok2 {
		return sp, fmt.Errorf("malformed position %q", field)
	}
	var err error
	for _, f := range []struct {
		dst *int
		src string
	}{{&sp.offset, off}, {&sp.length, length}, {&sp.line, line}, {&sp.column, col}} {
		if *f.dst, err = strconv.Atoi(f.src); err != nil {
			return sp, fmt.Errorf("malformed position %q: %w", field, err)
		}
	}
	return sp, nil
}

func withTemplate(err error, path string) error {
	if pe, ok := err.(*ferrors.PipelineError); ok {
		return pe.WithTemplate(path)
	}
	return err
}

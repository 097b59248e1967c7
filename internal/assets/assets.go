// Package assets computes which emitted files belong to a set of entry
// points.
package assets

import (
	"regexp"
)

var assetPattern = regexp.MustCompile(`\.(css|js|mjs)(\?|$)`)

// BuildState exposes the entry point files of a finished outer build.
type BuildState interface {
	EntrypointFiles(name string) []string
	PublicPath() string
}

// Manifest lists the files of the requested entry points by type.
type Manifest struct {
	JS         []string `cty:"js" json:"js" yaml:"js"`
	CSS        []string `cty:"css" json:"css" yaml:"css"`
	PublicPath string   `cty:"publicPath" json:"publicPath" yaml:"publicPath"`
}

// Resolve collects the files of entryNames in entry order, then file
// order. Files with an unrecognized extension are skipped and .mjs files
// are reported as js. Names are returned as emitted.
func Resolve(state BuildState, entryNames []string) Manifest {
	m := Manifest{
		JS:         []string{},
		CSS:        []string{},
		PublicPath: state.PublicPath(),
	}

	for _, name := range entryNames {
		for _, file := range state.EntrypointFiles(name) {
			switch Extension(file) {
			case "js":
				m.JS = append(m.JS, file)
			case "css":
				m.CSS = append(m.CSS, file)
			}
		}
	}
	return m
}

// Extension returns the normalized asset type of file, or "" when file is
// not a script or stylesheet.
func Extension(file string) string {
	match := assetPattern.FindStringSubmatch(file)
	if match == nil {
		return ""
	}
	if match[1] == "mjs" {
		return "js"
	}
	return match[1]
}

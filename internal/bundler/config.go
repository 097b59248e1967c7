// Package bundler is the outer build that the html plugin attaches to.
//
// A Compiler turns an ordered list of entry points into emitted assets:
// the script imports of an entry are concatenated into one [name].js file
// and its stylesheet imports into one [name].css file. Plugins hook into
// each build through the compiler's lifecycle hooks.
package bundler

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultFilename is the output pattern of entry scripts.
const DefaultFilename = "[name].js"

// Config describes an outer build.
type Config struct {
	// Context is the directory relative imports resolve from.
	Context string `json:"context" yaml:"context"`
	// Entries are built in order.
	Entries []Entry `json:"entries" yaml:"entries"`
	// OutputPath is the directory assets are written to.
	OutputPath string `json:"outputPath" yaml:"outputPath"`
	PublicPath string `json:"publicPath" yaml:"publicPath"`
	// Filename is the script name pattern. [name] and [contenthash] are
	// substituted.
	Filename string `json:"filename" yaml:"filename"`
}

// Entry is one named entry point.
type Entry struct {
	Name    string        `json:"name" yaml:"name" mapstructure:"name"`
	Imports []string      `json:"imports" yaml:"imports" mapstructure:"imports"`
	Virtual []VirtualFile `json:"-" yaml:"-" mapstructure:"-"`
}

// VirtualFile is an in-memory module bundled ahead of an entry's imports.
type VirtualFile struct {
	Name    string
	Content []byte
}

// Validate checks that entry names are unique and non-empty.
func (c Config) Validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("at least one entry is required")
	}
	seen := make(map[string]bool, len(c.Entries))
	for _, e := range c.Entries {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entry name is required")
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// TemplateValue exposes the build configuration to templates.
func (c Config) TemplateValue() interface{} {
	entries := make(map[string]interface{}, len(c.Entries))
	for _, e := range c.Entries {
		entries[e.Name] = append([]string{}, e.Imports...)
	}
	return map[string]interface{}{
		"context":    c.Context,
		"entry":      entries,
		"outputPath": c.OutputPath,
		"publicPath": c.PublicPath,
		"filename":   c.filename(),
	}
}

func (c Config) filename() string {
	if c.Filename == "" {
		return DefaultFilename
	}
	return c.Filename
}

func (c Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.Context == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Context, path)
}

func outputName(pattern, name, contentHash string) string {
	out := strings.ReplaceAll(pattern, "[name]", name)
	return strings.ReplaceAll(out, "[contenthash]", contentHash)
}

func styleName(scriptName string) string {
	return strings.TrimSuffix(scriptName, filepath.Ext(scriptName)) + ".css"
}

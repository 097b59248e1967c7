// Package config loads htmlforge configuration using Viper from
// .htmlforge.yml, HTMLFORGE_ prefixed environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/htmlforge/internal/bundler"
	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/logging"
	"github.com/conneroisu/htmlforge/internal/plugin"
	"github.com/conneroisu/htmlforge/internal/server"
	"github.com/conneroisu/htmlforge/internal/tags"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "HTMLFORGE"
	// FileName is the default config file name without extension.
	FileName = ".htmlforge"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Build       BuildConfig       `mapstructure:"build" yaml:"build"`
	HTML        HTMLConfig        `mapstructure:"html" yaml:"html"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type BuildConfig struct {
	Context          string          `mapstructure:"context" yaml:"context"`
	Output           string          `mapstructure:"output" yaml:"output"`
	PublicPath       string          `mapstructure:"public_path" yaml:"public_path"`
	Filename         string          `mapstructure:"filename" yaml:"filename"`
	Entries          []bundler.Entry `mapstructure:"entries" yaml:"entries"`
	AggregateTimeout time.Duration   `mapstructure:"aggregate_timeout" yaml:"aggregate_timeout"`
	StaticDir        string          `mapstructure:"static_dir" yaml:"static_dir"`
}

type HTMLConfig struct {
	Template string `mapstructure:"template" yaml:"template"`
	Filename string `mapstructure:"filename" yaml:"filename"`
	Inject   string `mapstructure:"inject" yaml:"inject"`
	// Options is passed to templates verbatim. Keys read from the config
	// file keep their case.
	Options map[string]interface{} `mapstructure:"options" yaml:"options"`
}

type DevelopmentConfig struct {
	HotReload bool `mapstructure:"hot_reload" yaml:"hot_reload"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9999)
	v.SetDefault("server.open", false)

	v.SetDefault("build.context", ".")
	v.SetDefault("build.output", "build")
	v.SetDefault("build.public_path", "/")
	v.SetDefault("build.filename", bundler.DefaultFilename)
	v.SetDefault("build.entries", []map[string]interface{}{
		{"name": "app", "imports": []string{"./src/index.js"}},
	})
	v.SetDefault("build.aggregate_timeout", 2*time.Second)
	v.SetDefault("build.static_dir", "public")

	v.SetDefault("html.template", "./public/index.html")
	v.SetDefault("html.filename", plugin.DefaultFilename)
	v.SetDefault("html.inject", string(tags.TargetBody))

	v.SetDefault("development.hot_reload", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, normalizes and validates the configuration held by v.
// Relative directories are resolved against build.context, and
// build.context against the working directory.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ferrors.NewConfigError("CONFIG_DECODE", "cannot decode configuration", err)
	}

	root, err := filepath.Abs(cfg.Build.Context)
	if err != nil {
		return nil, ferrors.NewConfigError("CONFIG_CONTEXT", "cannot resolve build.context", err)
	}
	cfg.Build.Context = root
	cfg.Build.Output = resolve(root, cfg.Build.Output)
	if cfg.Build.StaticDir != "" {
		cfg.Build.StaticDir = resolve(root, cfg.Build.StaticDir)
	}

	options, err := fileOptions(v.ConfigFileUsed())
	if err != nil {
		return nil, ferrors.NewConfigError("CONFIG_DECODE", "cannot decode html.options", err)
	}
	cfg.HTML.Options = mergeOptions(cfg.HTML.Options, options)
	if _, ok := cfg.HTML.Options["title"]; !ok {
		cfg.HTML.Options["title"] = DefaultTitle(root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fileOptions reads html.options from a YAML or JSON config file with the
// original key case. Viper folds every key to lower case.
func fileOptions(path string) (map[string]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml", ".json":
	default:
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		HTML struct {
			Options map[string]interface{} `yaml:"options"`
		} `yaml:"html"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.HTML.Options, nil
}

// mergeOptions replaces the lower-cased keys viper produced with the keys
// as written in the file. Values viper took from other sources, such as
// environment overrides of a scalar option, win over the file.
func mergeOptions(folded, original map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(folded)+len(original))
	for k, v := range folded {
		out[k] = v
	}
	for k, v := range original {
		lower := strings.ToLower(k)
		if fv, ok := out[lower]; ok {
			delete(out, lower)
			if _, nested := v.(map[string]interface{}); !nested {
				v = fv
			}
		}
		out[k] = v
	}
	return out
}

// DefaultTitle derives a document title from a project directory name.
func DefaultTitle(dir string) string {
	name := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(filepath.Base(dir))
	return cases.Title(language.English).String(strings.TrimSpace(name))
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return ferrors.NewConfigError("CONFIG_PORT",
			fmt.Sprintf("server.port %d is not in range 0-65535", c.Server.Port), nil)
	}
	if strings.TrimSpace(c.HTML.Template) == "" {
		return ferrors.NewConfigError("CONFIG_TEMPLATE", "html.template is required", nil)
	}
	if _, err := tags.ParseTarget(c.HTML.Inject); err != nil {
		return ferrors.NewConfigError("CONFIG_INJECT", "invalid html.inject", err)
	}
	if err := validateFilename(c.HTML.Filename); err != nil {
		return ferrors.NewConfigError("CONFIG_FILENAME", "invalid html.filename", err)
	}
	if err := c.Bundler().Validate(); err != nil {
		return ferrors.NewConfigError("CONFIG_ENTRIES", "invalid build.entries", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return ferrors.NewConfigError("CONFIG_LOG_LEVEL", "invalid log.level", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return ferrors.NewConfigError("CONFIG_LOG_FORMAT",
			fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format), nil)
	}
	return nil
}

// validateFilename rejects output names that escape the output directory.
func validateFilename(name string) error {
	if name == "" {
		return nil
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("%s must be relative", name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return fmt.Errorf("%s contains path traversal", name)
		}
	}
	return nil
}

// Bundler returns the outer build configuration.
func (c *Config) Bundler() bundler.Config {
	return bundler.Config{
		Context:    c.Build.Context,
		Entries:    append([]bundler.Entry(nil), c.Build.Entries...),
		OutputPath: c.Build.Output,
		PublicPath: c.Build.PublicPath,
		Filename:   c.Build.Filename,
	}
}

// Plugin returns the html plugin options.
func (c *Config) Plugin() plugin.Options {
	inject, _ := tags.ParseTarget(c.HTML.Inject)
	return plugin.Options{
		Template: c.HTML.Template,
		Filename: c.HTML.Filename,
		Inject:   inject,
		Extra:    c.HTML.Options,
	}
}

// DevServer returns the dev server configuration.
func (c *Config) DevServer() server.Config {
	return server.Config{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		StaticDir:      c.Build.StaticDir,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}

// Logger returns the logger configuration.
func (c *Config) Logger() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	return cfg
}

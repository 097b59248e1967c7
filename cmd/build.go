package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/htmlforge/internal/assets"
	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/config"
)

var buildManifest string

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build once and write the output to disk",
	Long: `Build every entry, render the html template and write the
assets to build.output.

Examples:
  htmlforge build                        # Build with .htmlforge.yml
  htmlforge build --output dist          # Write to ./dist
  htmlforge build --manifest build.yml   # Also write a YAML manifest`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("output", "o", "build", "output directory")
	buildCmd.Flags().StringVar(&buildManifest, "manifest", "", "write a YAML build manifest to this path")

	_ = buildCmd.MarkFlagDirname("output")
	_ = viper.BindPFlag("build.output", buildCmd.Flags().Lookup("output"))
}

// Manifest summarizes a build for tooling.
type Manifest struct {
	Compilation string                 `yaml:"compilation"`
	Hash        string                 `yaml:"hash"`
	Duration    time.Duration          `yaml:"duration"`
	Document    string                 `yaml:"document"`
	Entrypoints map[string][]string    `yaml:"entrypoints"`
	Files       assets.Manifest        `yaml:"files"`
	Assets      []bundler.AssetInfo    `yaml:"assets"`
	Options     map[string]interface{} `yaml:"options,omitempty"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	p, err := newPipeline(cfg, cfg.Bundler(), afero.NewOsFs())
	if err != nil {
		return err
	}

	stats, err := p.compiler.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	printAssets(cmd.OutOrStdout(), cfg.Build.Output, stats)

	if buildManifest != "" {
		if err := writeManifest(buildManifest, p, stats); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Manifest written to %s\n", buildManifest)
	}
	return nil
}

func printAssets(w io.Writer, dir string, stats *bundler.Stats) {
	fmt.Fprintf(w, "Built %s in %s\n", stats.Hash, stats.Duration.Round(time.Millisecond))
	for _, a := range stats.Assets {
		fmt.Fprintf(w, "  %-32s %10s\n", filepath.Join(dir, a.Name), humanize.Bytes(uint64(a.Size)))
	}
}

func buildManifestFor(p *pipeline, stats *bundler.Stats) Manifest {
	comp := p.compiler.LastCompilation()
	m := Manifest{
		Compilation: stats.CompilationID,
		Hash:        stats.Hash,
		Duration:    stats.Duration,
		Entrypoints: make(map[string][]string),
		Assets:      stats.Assets,
		Options:     p.cfg.HTML.Options,
	}
	for _, name := range comp.EntrypointNames() {
		m.Entrypoints[name] = comp.EntrypointFiles(name)
	}
	m.Files = assets.Resolve(comp, comp.EntrypointNames())
	if last := p.plugin.LastResult(); last != nil {
		m.Document = last.OutputName
	}
	return m
}

func writeManifest(path string, p *pipeline, stats *bundler.Stats) error {
	data, err := yaml.Marshal(buildManifestFor(p, stats))
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

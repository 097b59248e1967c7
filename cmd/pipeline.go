package cmd

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/config"
	"github.com/conneroisu/htmlforge/internal/logging"
	"github.com/conneroisu/htmlforge/internal/metrics"
	"github.com/conneroisu/htmlforge/internal/plugin"
)

// pipeline is a compiler with the html plugin applied.
type pipeline struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	compiler *bundler.Compiler
	plugin   *plugin.HTMLPlugin
}

func newPipeline(cfg *config.Config, bc bundler.Config, outputFS afero.Fs) (*pipeline, error) {
	lc := cfg.Logger()
	lc.Output = os.Stderr
	logger := logging.NewLogger(lc)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	c := bundler.NewCompiler(bc,
		bundler.WithOutputFS(outputFS),
		bundler.WithLogger(logger),
	)
	p, err := plugin.New(cfg.Plugin(), plugin.WithLogger(logger), plugin.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	p.Apply(c)

	return &pipeline{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		compiler: c,
		plugin:   p,
	}, nil
}

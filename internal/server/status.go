package server

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/version"
)

// Status is the snapshot shown on the status page.
type Status struct {
	Version     string
	StartedAt   time.Time
	Clients     int
	Compilation string
	Hash        string
	Assets      []bundler.AssetInfo
	PluginState string
	Cached      bool
	Document    string
}

func (s *Server) status() Status {
	st := Status{
		Version:   version.GetVersion(),
		StartedAt: s.startedAt,
		Clients:   s.hub.ClientCount(),
	}
	if comp := s.compiler.LastCompilation(); comp != nil {
		st.Compilation = comp.ID()
		st.Hash = comp.Hash()
		for _, name := range comp.Assets() {
			src, _ := comp.Asset(name)
			st.Assets = append(st.Assets, bundler.AssetInfo{Name: name, Size: int64(len(src))})
		}
	}
	if s.plugin != nil {
		st.PluginState = s.plugin.State().String()
		st.Cached = s.plugin.IsCompilationCached()
		if last := s.plugin.LastResult(); last != nil {
			st.Document = last.OutputName
		}
	}
	return st
}

type statusRow struct {
	label string
	value string
}

// rows lists the scalar fields in display order.
func (st Status) rows() []statusRow {
	return []statusRow{
		{"Started", humanize.Time(st.StartedAt)},
		{"Reload clients", fmt.Sprint(st.Clients)},
		{"Compilation", st.Compilation},
		{"Hash", st.Hash},
		{"Template state", st.PluginState},
		{"Template cached", fmt.Sprint(st.Cached)},
		{"Document", st.Document},
	}
}

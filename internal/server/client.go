package server

import (
	_ "embed"

	"github.com/conneroisu/htmlforge/internal/bundler"
)

// ClientEntryName is the entry the reload client is bundled into.
const ClientEntryName = "client"

//go:embed assets/client.js
var clientScript []byte

// ClientScript returns the browser reload client.
func ClientScript() []byte {
	return append([]byte(nil), clientScript...)
}

// WithClientEntry returns cfg with the reload client bundled as the first
// entry, so its script tag precedes the application's.
func WithClientEntry(cfg bundler.Config) bundler.Config {
	for _, e := range cfg.Entries {
		if e.Name == ClientEntryName {
			return cfg
		}
	}
	entry := bundler.Entry{
		Name:    ClientEntryName,
		Virtual: []bundler.VirtualFile{{Name: "htmlforge/client.js", Content: ClientScript()}},
	}
	cfg.Entries = append([]bundler.Entry{entry}, cfg.Entries...)
	return cfg
}

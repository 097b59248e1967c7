package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/htmlforge/internal/config"
)

const projectTemplate = "<html><head></head><body><%= htmlWebpackPlugin.options.title %></body></html>"

func newProject(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "demo-app")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "public"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public", "index.html"), []byte(projectTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "index.js"), []byte("console.log('app')"), 0o644))
	return dir
}

func newTestCommand(out io.Writer) *cobra.Command {
	c := &cobra.Command{}
	c.SetOut(out)
	c.SetContext(context.Background())
	return c
}

func TestBuildWritesOutputAndManifest(t *testing.T) {
	dir := newProject(t)
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("build.context", dir)
	viper.Set("log.level", "error")

	manifestPath := filepath.Join(dir, "manifest.yml")
	buildManifest = manifestPath
	t.Cleanup(func() { buildManifest = "" })

	var out bytes.Buffer
	require.NoError(t, runBuild(newTestCommand(&out), nil))

	doc, err := os.ReadFile(filepath.Join(dir, "build", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, `<html><head></head><body>Demo App<script src="app.js"></script></body></html>`, string(doc))
	assert.FileExists(t, filepath.Join(dir, "build", "app.js"))
	assert.Contains(t, out.String(), "index.html")

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "index.html", m.Document)
	assert.NotEmpty(t, m.Hash)
	assert.Equal(t, []string{"app.js"}, m.Entrypoints["app"])
	assert.Equal(t, []string{"app.js"}, m.Files.JS)
	assert.Equal(t, "/", m.Files.PublicPath)
}

func TestBuildFailsOnTemplateError(t *testing.T) {
	dir := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public", "index.html"), []byte("<%= nope %>"), 0o644))
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("build.context", dir)
	viper.Set("log.level", "error")

	err := runBuild(newTestCommand(io.Discard), nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "build", "index.html"))
}

func TestServeInjectsReloadClient(t *testing.T) {
	dir := newProject(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	v := viper.New()
	v.Set("build.context", dir)
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", port)
	v.Set("build.aggregate_timeout", "10ms")
	v.Set("log.level", "error")
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK && strings.Contains(body, "app.js")
	}, 10*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, `<script src="client.js"></script><script src="app.js"></script></body>`)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestVersionCommand(t *testing.T) {
	t.Cleanup(func() {
		versionFormat = "text"
		versionShort = false
	})

	var out bytes.Buffer
	versionFormat = "json"
	require.NoError(t, runVersionCommand(newTestCommand(&out), nil))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	out.Reset()
	versionFormat = "text"
	require.NoError(t, runVersionCommand(newTestCommand(&out), nil))
	assert.True(t, strings.HasPrefix(out.String(), "htmlforge "))

	versionFormat = "xml"
	assert.Error(t, runVersionCommand(newTestCommand(&out), nil))
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"build", "serve", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestFlagNamesAreNormalized(t *testing.T) {
	assert.Equal(t, "log-level", string(normalizeFlagName(nil, "log_level")))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log_level"))
}

package route_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcloud/console/internal/logger"
	"github.com/arborcloud/console/internal/route"
)

func writePage(t *testing.T, dir, rel string) {
	t.Helper()
	file := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(`{{define "content"}}page{{end}}`), 0o644))
}

func echoLoader(loads *atomic.Int32) route.Loader {
	return func(name, file string) route.HandlerFunc {
		loads.Add(1)
		return func(w http.ResponseWriter, r *http.Request) error {
			_, err := w.Write([]byte(name))
			return err
		}
	}
}

func TestDiscoveryScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePage(t, dir, "dashboard.html")
	writePage(t, dir, "project/create.html")
	writePage(t, dir, "notes.txt") // not a page, ignored

	var loads atomic.Int32
	d, err := route.NewDiscovery(dir, echoLoader(&loads), logger.NewDiscard())
	require.NoError(t, err)

	h, ok := d.Resolve("/dashboard")
	require.True(t, ok)
	rec := httptest.NewRecorder()
	require.NoError(t, h(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil)))
	assert.Equal(t, "/dashboard", rec.Body.String())

	_, ok = d.Resolve("/project/create")
	assert.True(t, ok)

	_, ok = d.Resolve("/notes")
	assert.False(t, ok)
}

func TestDiscoveryLazyLoadsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePage(t, dir, "dashboard.html")

	var loads atomic.Int32
	d, err := route.NewDiscovery(dir, echoLoader(&loads), logger.NewDiscard())
	require.NoError(t, err)

	assert.Equal(t, int32(0), loads.Load(), "scan alone must not load")

	h, _ := d.Resolve("/dashboard")
	for range 3 {
		require.NoError(t, h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dashboard", nil)))
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestDiscoveryRebuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePage(t, dir, "dashboard.html")

	var loads atomic.Int32
	d, err := route.NewDiscovery(dir, echoLoader(&loads), logger.NewDiscard())
	require.NoError(t, err)

	_, ok := d.Resolve("/billing")
	require.False(t, ok)

	writePage(t, dir, "billing.html")
	require.NoError(t, d.Rebuild())

	_, ok = d.Resolve("/billing")
	assert.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(dir, "dashboard.html")))
	require.NoError(t, d.Rebuild())

	_, ok = d.Resolve("/dashboard")
	assert.False(t, ok)
}

package route_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcloud/console/internal/route"
)

func named(id string, hits *[]string) route.HandlerFunc {
	return func(http.ResponseWriter, *http.Request) error {
		*hits = append(*hits, id)
		return nil
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	var hits []string
	reg := route.New()
	reg.Handle("/dashboard", named("dashboard", &hits))
	reg.Handle("/project/create", named("project-create", &hits))

	h, ok := reg.Resolve("/dashboard")
	require.True(t, ok)
	require.NoError(t, h(nil, nil))

	h, ok = reg.Resolve("/project/create")
	require.True(t, ok)
	require.NoError(t, h(nil, nil))

	assert.Equal(t, []string{"dashboard", "project-create"}, hits)
}

func TestRegistryHyphenUnderscoreMapping(t *testing.T) {
	t.Parallel()

	var hits []string
	reg := route.New()
	reg.Handle("/firewall_rule", named("fw", &hits))

	_, ok := reg.Resolve("/firewall-rule")
	assert.True(t, ok, "hyphenated external path resolves underscored entry")

	_, ok = reg.Resolve("/firewall_rule")
	assert.True(t, ok)
}

func TestRegistryMiss(t *testing.T) {
	t.Parallel()

	reg := route.New()
	reg.Handle("/project/create", named("x", new([]string)))

	for _, p := range []string{"/does-not-exist", "/project", "/project/create/extra", "/"} {
		_, ok := reg.Resolve(p)
		assert.False(t, ok, "path %s", p)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	t.Parallel()

	reg := route.New()
	reg.Handle("/dashboard", named("a", new([]string)))

	assert.Panics(t, func() {
		reg.Handle("/dashboard", named("b", new([]string)))
	})

	// Hyphen and underscore forms name the same entry.
	assert.Panics(t, func() {
		reg.Handle("/dash-board", named("c", new([]string)))
		reg.Handle("/dash_board", named("d", new([]string)))
	})
}

func TestRegistryTrailingSlashNormalized(t *testing.T) {
	t.Parallel()

	reg := route.New()
	reg.Handle("/dashboard", named("x", new([]string)))

	_, ok := reg.Resolve("/dashboard/")
	assert.True(t, ok)
}

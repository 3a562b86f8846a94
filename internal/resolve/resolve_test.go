package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jroll/internal/config"
)

func TestResolveLiteral(t *testing.T) {
	r := New()
	p := &config.Project{Inactive: "green"}
	group, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "green", group)
}

func TestResolveURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("  green\n"))
	}))
	defer srv.Close()

	r := New()
	p := &config.Project{Inactive: srv.URL}
	group, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "green", group)
}

func TestResolveInfoYAMLTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write([]byte("tail: blue\n"))
	}))
	defer srv.Close()

	r := New()
	p := &config.Project{Info: srv.URL, Inactive: "green"}
	group, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "blue", group, "info takes precedence over literal inactive")
}

func TestResolveInfoWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("tail: blue\n"))
	}))
	defer srv.Close()

	r := New()
	p := &config.Project{Info: srv.URL}
	_, err := r.Resolve(context.Background(), p)
	require.Error(t, err)
}

func TestResolveInfoMissingTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write([]byte("other: blue\n"))
	}))
	defer srv.Close()

	r := New()
	p := &config.Project{Info: srv.URL}
	_, err := r.Resolve(context.Background(), p)
	require.Error(t, err)
}

func TestResolveActiveFlipsGroup(t *testing.T) {
	r := New()
	p := &config.Project{
		Inactive: "green",
		Groups:   map[string][]config.Member{"blue": nil, "green": nil},
	}
	group, err := r.ResolveActive(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "blue", group)
}

func TestResolveActiveRequiresTwoGroups(t *testing.T) {
	r := New()
	p := &config.Project{
		Inactive: "green",
		Groups:   map[string][]config.Member{"blue": nil, "green": nil, "canary": nil},
	}
	_, err := r.ResolveActive(context.Background(), p)
	require.Error(t, err)
}

func TestResolveBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New()
	p := &config.Project{Inactive: srv.URL}
	_, err := r.Resolve(context.Background(), p)
	require.Error(t, err)
}

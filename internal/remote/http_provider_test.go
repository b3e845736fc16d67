package remote_test

import (
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/remote"
)

func newEntryServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and evaluates entry artifact", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<section data-testid="product-manager">{{.Host}}</section>`))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL + "/assets/remoteEntry.html"})

		component, err := p.Resolve(ctx, "pm")
		require.NoError(t, err)
		html, err := component.Render(ctx, map[string]string{"Host": "<dashboard>"})

		require.NoError(t, err)
		assert.Equal(t, template.HTML(`<section data-testid="product-manager">&lt;dashboard&gt;</section>`), html)
	})

	t.Run("unknown module", func(t *testing.T) {
		p := remote.NewHTTPProvider(nil)

		_, err := p.Resolve(ctx, "pm")

		var le *remote.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, remote.PhaseFetch, le.Phase)
		assert.ErrorIs(t, err, remote.ErrModuleNotConfigured)
	})

	t.Run("non-200 is a fetch failure", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})

		_, err := p.Resolve(ctx, "pm")

		var le *remote.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, remote.PhaseFetch, le.Phase)
		assert.ErrorIs(t, err, remote.ErrUnexpectedStatus)
	})

	t.Run("oversized artifact is a fetch failure", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			// a valid fragment whose prefix would parse as well
			_, _ = w.Write([]byte(strings.Repeat("<p>row</p>", remote.MaxArtifactSize/10+1)))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})

		_, err := p.Resolve(ctx, "pm")

		var le *remote.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, remote.PhaseFetch, le.Phase)
		assert.ErrorIs(t, err, remote.ErrArtifactTooLarge)
	})

	t.Run("artifact at the size limit is accepted", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("a", remote.MaxArtifactSize)))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})

		_, err := p.Resolve(ctx, "pm")

		require.NoError(t, err)
	})

	t.Run("slow server hits the fetch timeout", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			_, _ = w.Write([]byte("late"))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL}, remote.WithFetchTimeout(20*time.Millisecond))

		_, err := p.Resolve(ctx, "pm")

		var le *remote.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, remote.PhaseFetch, le.Phase)
	})

	t.Run("malformed artifact is an evaluation failure", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<div>{{ .Unclosed </div>`))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})

		_, err := p.Resolve(ctx, "pm")

		var le *remote.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, remote.PhaseEvaluate, le.Phase)
	})

	t.Run("empty artifact is an evaluation failure", func(t *testing.T) {
		srv := newEntryServer(t, func(http.ResponseWriter, *http.Request) {})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})

		_, err := p.Resolve(ctx, "pm")

		require.ErrorIs(t, err, remote.ErrEmptyArtifact)
	})
}

func TestHTTPProvider_WithBoundary(t *testing.T) {
	t.Run("unreachable host fails within the bounded wait", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p := remote.NewHTTPProvider(map[string]string{"pm": url}, remote.WithFetchTimeout(time.Second))
		b := remote.NewBoundary("pm", p, remote.WithDisplayName("Product Manager"))

		state := mountAndWait(t, b)

		assert.Equal(t, remote.StateFailed, state)
		assert.Equal(t, "Failed to Load Remote Module: Product Manager", b.View().Message)
	})

	t.Run("execution error during render fails the boundary", func(t *testing.T) {
		srv := newEntryServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<p>{{.Missing}}</p>`))
		})
		p := remote.NewHTTPProvider(map[string]string{"pm": srv.URL})
		b := remote.NewBoundary("pm", p, remote.WithProps(map[string]string{}))

		state := mountAndWait(t, b)

		assert.Equal(t, remote.StateFailed, state)
		assert.Equal(t, remote.PhaseRender, b.Err().Phase)
	})
}

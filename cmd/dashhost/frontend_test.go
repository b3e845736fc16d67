//go:build e2e

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/config"
	"github.com/lllypuk/dashhost/internal/domain/event"
)

const browserTimeout = 10 * time.Second

// isHeadless returns whether browser should run in headless mode.
// Set HEADLESS=false to watch the run.
func isHeadless() bool {
	if val := os.Getenv("HEADLESS"); val == "false" || val == "0" {
		return false
	}
	return true
}

func newBrowserPage(t *testing.T) playwright.Page {
	t.Helper()

	pw, err := playwright.Run()
	require.NoError(t, err, "Failed to start Playwright")
	t.Cleanup(func() { _ = pw.Stop() })

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(isHeadless()),
	})
	require.NoError(t, err, "Failed to launch browser")
	t.Cleanup(func() { _ = browser.Close() })

	page, err := browser.NewPage()
	require.NoError(t, err, "Failed to create new page")
	page.SetDefaultTimeout(float64(browserTimeout.Milliseconds()))

	return page
}

func serveDashboard(t *testing.T, cfg *config.Config) string {
	t.Helper()

	_, e := startContainer(t, cfg)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server.URL
}

func TestFrontend_LiveMetrics(t *testing.T) {
	baseURL := serveDashboard(t, testConfig())
	page := newBrowserPage(t)
	expect := playwright.NewPlaywrightAssertions(float64(browserTimeout.Milliseconds()))

	_, err := page.Goto(baseURL + "/")
	require.NoError(t, err)

	total := page.GetByTestId("total-products-metric")
	active := page.GetByTestId("active-products-metric")
	require.NoError(t, expect.Locator(total).ToHaveText("0"))

	resp, err := http.Post(baseURL+"/api/v1/events/"+event.ProductAdded, "application/json",
		strings.NewReader(`{"product":{"id":"p-1","title":"Lamp","price":10,"status":"active"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	require.NoError(t, expect.Locator(total).ToHaveText("1"))
	require.NoError(t, expect.Locator(active).ToHaveText("1"))
}

func TestFrontend_RemountFailedModule(t *testing.T) {
	var healthy atomic.Bool
	entry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<div data-testid="product-manager-root">Product list</div>`))
	}))
	t.Cleanup(entry.Close)

	cfg := testConfig()
	cfg.Remotes.Modules = []config.RemoteModule{
		{Name: "product-manager", DisplayName: "Product Manager", URL: entry.URL},
	}
	baseURL := serveDashboard(t, cfg)
	page := newBrowserPage(t)
	expect := playwright.NewPlaywrightAssertions(float64(browserTimeout.Milliseconds()))

	_, err := page.Goto(baseURL + "/")
	require.NoError(t, err)

	failure := page.GetByTestId("remote-module-error")
	if visibleErr := expect.Locator(failure).ToBeVisible(); visibleErr != nil {
		// the first paint may still show the loading fallback
		_, err = page.Reload()
		require.NoError(t, err)
	}
	require.NoError(t, expect.Locator(failure).ToContainText("Failed to Load Remote Module: Product Manager"))

	healthy.Store(true)
	require.NoError(t, page.GetByText("Retry").Click())

	require.NoError(t, expect.Locator(page.GetByTestId("product-manager-root")).ToHaveText("Product list"))
	require.NoError(t, expect.Locator(failure).ToHaveCount(0))
}

package pages_test

import (
	"strings"
	"testing"

	"caddie/web/pages"
)

func TestRenderStatusPage(t *testing.T) {
	html := pages.RenderStatusPage()

	if !strings.Contains(html, "<html") || !strings.Contains(html, "</html>") {
		t.Error("expected a complete html document")
	}

	// The JS poller addresses these elements by id.
	for _, id := range []string{
		`id="sync-indicator"`,
		`id="sync-status-text"`,
		`id="pending-count"`,
		`id="failed-count"`,
		`id="failed-list"`,
		`id="btn-sync-now"`,
		`id="btn-retry"`,
	} {
		if !strings.Contains(html, id) {
			t.Errorf("rendered page missing %s", id)
		}
	}

	if !strings.Contains(html, "/api/v1/sync/status") {
		t.Error("status poller endpoint missing from page script")
	}
}

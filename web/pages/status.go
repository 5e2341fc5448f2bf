// Package pages renders the device-local HTML surfaces with element.
package pages

import (
	"github.com/rohanthewiz/element"
)

// StatusPage is the persistent sync indicator: offline badge, pending
// count, spinner while a cycle runs, and a failed list with retry.
type StatusPage struct {
	Title string
}

// RenderStatusPage renders the indicator page shown at /.
func RenderStatusPage() string {
	return StatusPage{Title: "Caddie Sync"}.Render()
}

func (p StatusPage) Render() (out string) {
	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Title().T(p.Title),
			b.Meta("charset", "utf-8"),
			b.Style().T(statusCSS),
		),
		b.Body().R(
			element.RenderComponents(b,
				Header{Title: p.Title},
				Indicator{},
				Controls{},
			),
			b.Script().T(statusJS),
		),
	)

	return b.String()
}

// Header is the page banner.
type Header struct {
	Title string
}

func (h Header) Render(b *element.Builder) any {
	b.Header("class", "banner").R(
		b.H1().T(h.Title),
	)
	return nil
}

// Indicator is the live sync state block, populated by statusJS.
type Indicator struct{}

func (i Indicator) Render(b *element.Builder) any {
	b.Div("class", "indicator", "id", "sync-indicator").R(
		b.Div("class", "sync-status", "id", "sync-status").R(
			b.Span("id", "sync-status-icon").T("…"),
			b.Span("id", "sync-status-text").T("Checking"),
		),
		b.Div("class", "sync-detail").R(
			b.Span("id", "pending-count").T(""),
			b.Span("id", "failed-count").T(""),
			b.Span("id", "last-sync").T(""),
		),
		b.Ul("class", "failed-list", "id", "failed-list").R(),
	)
	return nil
}

// Controls hosts the sync action buttons.
type Controls struct{}

func (c Controls) Render(b *element.Builder) any {
	b.Div("class", "controls").R(
		b.Button("id", "btn-sync-now", "onclick", "syncNow()").T("Sync Now"),
		b.Button("id", "btn-retry", "onclick", "retryFailed()").T("Retry Failed"),
		b.Button("id", "btn-refresh", "onclick", "syncDown()").T("Refresh From Server"),
	)
	return nil
}

const statusCSS = `
body { font-family: system-ui, sans-serif; margin: 0; background: #f4f7f4; color: #1f2a1f; }
.banner { background: #1e5b2e; color: #fff; padding: 0.8rem 1.2rem; }
.banner h1 { margin: 0; font-size: 1.2rem; }
.indicator { margin: 1.2rem; padding: 1rem; background: #fff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.15); }
.sync-status { font-size: 1.1rem; display: flex; gap: 0.5rem; align-items: center; }
.sync-status.offline #sync-status-icon { color: #a33; }
.sync-status.syncing #sync-status-icon { color: #c90; }
.sync-status.synced #sync-status-icon { color: #2a2; }
.sync-detail { margin-top: 0.5rem; color: #555; display: flex; gap: 1rem; font-size: 0.9rem; }
.failed-list { color: #a33; font-size: 0.85rem; }
.controls { margin: 0 1.2rem; display: flex; gap: 0.6rem; }
.controls button { padding: 0.5rem 1rem; border: none; border-radius: 6px; background: #1e5b2e; color: #fff; cursor: pointer; }
.controls button:disabled { background: #999; }
`

const statusJS = `
async function refreshStatus() {
  try {
    const resp = await fetch('/api/v1/sync/status');
    const body = await resp.json();
    if (!body.success) return;
    const s = body.data;

    const el = document.getElementById('sync-status');
    const icon = document.getElementById('sync-status-icon');
    const text = document.getElementById('sync-status-text');
    el.className = 'sync-status';

    if (s.offline) {
      el.classList.add('offline');
      icon.textContent = '⚠';
      text.textContent = 'Offline' + (s.pending_count > 0 ? ' - ' + s.pending_count + ' pending' : '');
    } else if (s.syncing) {
      el.classList.add('syncing');
      icon.textContent = '↻';
      text.textContent = 'Syncing (' + s.state + ')';
    } else if (s.pending_count > 0) {
      el.classList.add('syncing');
      icon.textContent = '…';
      text.textContent = s.pending_count + ' pending';
    } else {
      el.classList.add('synced');
      icon.textContent = '✓';
      text.textContent = 'Synced';
    }

    document.getElementById('pending-count').textContent = 'pending: ' + s.pending_count;
    document.getElementById('failed-count').textContent = 'failed: ' + s.failed_count;
    document.getElementById('last-sync').textContent = s.last_sync ? 'last sync: ' + new Date(s.last_sync).toLocaleTimeString() : '';

    const list = document.getElementById('failed-list');
    list.innerHTML = '';
    if (s.failed_count > 0) {
      const fresp = await fetch('/api/v1/sync/failed');
      const fbody = await fresp.json();
      if (fbody.success) {
        for (const t of fbody.data) {
          const li = document.createElement('li');
          li.textContent = t.entity_type + ' ' + t.entity_id + ': ' + (t.last_error || 'failed');
          list.appendChild(li);
        }
      }
    }
  } catch (e) {
    // Local server unreachable; leave the last rendered state in place.
  }
}

async function syncNow() { await fetch('/api/v1/sync/now', {method: 'POST'}); refreshStatus(); }
async function retryFailed() { await fetch('/api/v1/sync/retry', {method: 'POST'}); refreshStatus(); }
async function syncDown() { await fetch('/api/v1/sync/down', {method: 'POST'}); refreshStatus(); }

refreshStatus();
setInterval(refreshStatus, 3000);
`

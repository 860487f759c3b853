package httpapi

import (
	"fmt"
	"html"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>CraftSync</title>
  <style>
    :root {
      --ink: #1d2126;
      --paper: #f7f5f0;
      --card: #ffffff;
      --line: #d9d2c4;
      --accent: #23756a;
      --muted: #6c7572;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 24px;
    }
    .shell { max-width: 860px; margin: 0 auto; display: grid; gap: 14px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 18px;
    }
    h1 { margin: 0; font-size: 1.4rem; }
    .muted { color: var(--muted); font-size: 0.9rem; }
    dl { display: grid; grid-template-columns: max-content 1fr; gap: 6px 18px; margin: 0; }
    dt { color: var(--muted); }
    dd { margin: 0; font-variant-numeric: tabular-nums; }
    code { background: #efece4; padding: 2px 6px; border-radius: 6px; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>CraftSync daemon</h1>
      <p class="muted">Local records store with background workspace sync.</p>
    </div>
    <div class="card">
      <dl>
        <dt>Workspace</dt><dd>%s</dd>
        <dt>User</dt><dd>%s</dd>
        <dt>Outbox depth</dt><dd>%d / %d</dd>
        <dt>Dead letters</dt><dd>%d</dd>
      </dl>
    </div>
    <div class="card">
      <p class="muted">API: <code>GET /v1/stock</code>, <code>POST /v1/sales</code>,
      <code>POST /v1/sync/run</code>, <code>GET /v1/sync/events</code> (websocket).</p>
    </div>
  </div>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	wctx := s.Context()
	depth, capacity, dead := 0, 0, 0
	if s.outbox != nil {
		depth = s.outbox.Depth()
		capacity = s.outbox.Capacity()
		dead = len(s.outbox.DeadLetters())
	}
	workspace := wctx.WorkspaceID
	if workspace == "" {
		workspace = "(none)"
	}
	user := wctx.UserEmail
	if user == "" {
		user = wctx.UserID
	}
	if user == "" {
		user = "(anonymous)"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, dashboardHTML, html.EscapeString(workspace), html.EscapeString(user), depth, capacity, dead)
}

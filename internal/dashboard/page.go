package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Peertasks</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
  }
  header {
    display: flex;
    align-items: center;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  .meta { font-size: 12px; color: var(--text-dim); }
  .online { color: var(--green); }
  .offline { color: var(--red); }
  .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
  @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } }
  .card { background: var(--surface); border: 1px solid var(--border); border-radius: 8px; }
  .card-header {
    padding: 10px 14px;
    border-bottom: 1px solid var(--border);
    font-weight: 600;
    font-size: 13px;
    text-transform: uppercase;
    letter-spacing: 0.5px;
    display: flex;
    justify-content: space-between;
  }
  .row { display: flex; align-items: center; gap: 10px; padding: 8px 14px; border-bottom: 1px solid var(--border); }
  .row:last-child { border-bottom: none; }
  .row .name { flex: 1; }
  .done .name { text-decoration: line-through; color: var(--text-dim); }
  .dim { color: var(--text-dim); font-size: 12px; }
  .empty { padding: 14px; color: var(--text-dim); }
  form { display: flex; gap: 8px; padding: 10px 14px; border-bottom: 1px solid var(--border); }
  input[type=text] { flex: 1; background: var(--bg); color: var(--text); border: 1px solid var(--border); border-radius: 6px; padding: 6px 8px; }
  button { background: transparent; color: var(--accent); border: 1px solid var(--border); border-radius: 6px; padding: 4px 10px; cursor: pointer; }
  .dot { width: 8px; height: 8px; border-radius: 50%; background: var(--text-dim); }
  .dot.on { background: var(--green); }
</style>
</head>
<body>
<header>
  <h1>Peertasks</h1>
  <div class="meta"><span id="link" class="offline">offline</span> &middot; <span id="peer"></span> &middot; <span id="ts"></span></div>
</header>
<div class="grid">
  <div class="card">
    <div class="card-header"><span>Tasks</span><span id="task-count" class="dim"></span></div>
    <form id="add"><input id="task-name" type="text" placeholder="New task" autocomplete="off"><button type="submit">Add</button></form>
    <div id="tasks"></div>
  </div>
  <div class="card">
    <div class="card-header"><span>Peers</span><button id="refresh">Refresh</button></div>
    <div id="peers"></div>
  </div>
</div>
<script>
function esc(s) {
  const d = document.createElement('div');
  d.textContent = s == null ? '' : String(s);
  return d.innerHTML;
}

async function load() {
  const res = await fetch('/api/state');
  if (!res.ok) return;
  const s = await res.json();
  const link = document.getElementById('link');
  link.textContent = s.online ? 'online' : 'offline';
  link.className = s.online ? 'online' : 'offline';
  document.getElementById('peer').textContent = s.local_peer_id;
  document.getElementById('ts').textContent = new Date(s.timestamp).toLocaleTimeString();
  document.getElementById('task-count').textContent = s.tasks.length;

  document.getElementById('tasks').innerHTML = s.tasks.length === 0
    ? '<div class="empty">No tasks.</div>'
    : s.tasks.map(t =>
      '<div class="row' + (t.completed ? ' done' : '') + '">' +
      '<input type="checkbox" data-toggle="' + esc(t.id) + '"' + (t.completed ? ' checked' : '') + '>' +
      '<span class="name">' + esc(t.name) + '</span>' +
      '<span class="dim">' + esc(t.creator) + ' &middot; ' + esc(t.age) + '</span>' +
      '<button data-delete="' + esc(t.id) + '">Delete</button></div>').join('');

  document.getElementById('peers').innerHTML = s.peers.length === 0
    ? '<div class="empty">No peers.</div>'
    : s.peers.map(p =>
      '<div class="row"><span class="dot' + (p.connected ? ' on' : '') + '"></span>' +
      '<span class="name">' + esc(p.id) + '</span>' +
      '<span class="dim">' + esc(p.status) + '</span></div>').join('');
}

document.getElementById('add').addEventListener('submit', async e => {
  e.preventDefault();
  const input = document.getElementById('task-name');
  const res = await fetch('/api/tasks', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify({name: input.value})});
  if (res.ok) input.value = '';
  load();
});

document.getElementById('tasks').addEventListener('click', async e => {
  const toggle = e.target.getAttribute('data-toggle');
  const del = e.target.getAttribute('data-delete');
  if (toggle) await fetch('/api/tasks/' + encodeURIComponent(toggle) + '/toggle', {method: 'POST'});
  if (del) await fetch('/api/tasks/' + encodeURIComponent(del), {method: 'DELETE'});
  if (toggle || del) load();
});

document.getElementById('refresh').addEventListener('click', () => fetch('/api/peers/refresh', {method: 'POST'}));

load();
setInterval(load, 2000);
</script>
</body>
</html>
`

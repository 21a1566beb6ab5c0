package frontend

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func page(title, body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en" data-theme="dark">
<head>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<title>`+title+`</title>
<link rel="stylesheet" href="/static/styles.css"/>
</head>
<body>`+body+`</body>
</html>`)
		return err
	})
}

// BoardPage is the workspace shell. The board itself arrives as HTML from
// /ui/board and refreshes on an interval, so the markup always reflects the
// session's live cache.
func BoardPage() templ.Component {
	return page("Taskboard", `
<header class="topbar">
  <span class="brand">Taskboard</span>
  <span id="connection" class="status">connected</span>
</header>
<main>
  <section id="summary"></section>
  <section id="board" class="board"></section>
  <aside id="thread" class="thread"></aside>
</main>
<script>
async function refresh() {
  try {
    const res = await fetch('/ui/board');
    if (!res.ok) { return; }
    document.getElementById('board').outerHTML = await res.text();
  } catch (_) {
    document.getElementById('connection').textContent = 'disconnected';
  }
}
refresh();
setInterval(refresh, 2000);
</script>`)
}

// StatusPage renders a one-line message, used before the session is ready.
func StatusPage(message string) templ.Component {
	return page("Taskboard", `<main class="center"><p>`+templ.EscapeString(message)+`</p></main>`)
}

package views

import (
	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
)

const streamScript = `
const log = document.getElementById('events');
const append = (kind, data) => {
  const line = document.createElement('div');
  line.className = 'event ' + kind;
  line.textContent = '[' + kind + '] ' + data;
  log.prepend(line);
};
const source = new EventSource('/sse');
for (const kind of ['thought', 'action', 'output', 'signal']) {
  source.addEventListener(kind, (e) => append(kind, e.data));
}
document.getElementById('signal-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const input = document.getElementById('message');
  if (!input.value) return;
  await fetch('/api/signal', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({message: input.value}),
  });
  input.value = '';
});
`

const pageStyle = `
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { color: #8cf; }
.event { padding: 0.2em 0; border-bottom: 1px solid #333; }
.event.output { color: #8f8; }
.event.action { color: #fc8; }
input { width: 60%; background: #222; color: #ddd; border: 1px solid #555; padding: 0.4em; }
button { padding: 0.4em 1em; }
`

// Index renders the monitor page: a signal form and a live event log fed by
// the SSE stream.
func Index(model string) string {
	page := elem.Html(nil,
		elem.Head(nil,
			elem.Title(nil, elem.Text("LocalEntity monitor")),
			elem.Style(nil, elem.Text(pageStyle)),
		),
		elem.Body(nil,
			elem.H1(nil, elem.Text("LocalEntity")),
			elem.P(nil, elem.Text("model: "+model)),
			elem.Form(attrs.Props{attrs.ID: "signal-form"},
				elem.Input(attrs.Props{
					attrs.ID:          "message",
					attrs.Type:        "text",
					attrs.Placeholder: "send a signal...",
				}),
				elem.Button(attrs.Props{attrs.Type: "submit"}, elem.Text("send")),
			),
			elem.Div(attrs.Props{attrs.ID: "events"}),
			elem.Script(nil, elem.Text(streamScript)),
		),
	)
	return "<!DOCTYPE html>" + page.Render()
}

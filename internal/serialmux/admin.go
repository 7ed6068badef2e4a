package serialmux

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/tagurobo/servod/internal/transport"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html>
<head><title>servod console</title></head>
<body>
<h1>Console</h1>
<form id="cmd">
  <input id="line" name="command" size="60" placeholder="SET_JOINT_ANGLE,0,90,10" autofocus>
  <button type="submit">Send</button>
</form>
<pre id="reply"></pre>
<h2>Tail</h2>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => {
  tail.textContent += e.data + "\n";
};
document.getElementById("cmd").onsubmit = async (e) => {
  e.preventDefault();
  const body = new URLSearchParams({command: document.getElementById("line").value});
  const res = await fetch("send-command-api", {method: "POST", body});
  document.getElementById("reply").textContent = await res.text();
};
</script>
</body>
</html>
`))

// AttachAdminRoutes registers console debug pages on mux under /debug/.
// Commands submitted through send-command-api run through h exactly as if
// they had arrived on the wire; the reply is returned in the response body
// and also echoed to the port.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, h transport.Handler, obs transport.Observer) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the controller", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if len(command) > transport.MaxUnitLen {
			http.Error(w, "Command too long", http.StatusBadRequest)
			return
		}
		s.broadcast("> " + command)
		reply, ok := h.Handle(command)
		if ok {
			if err := s.SendLine(reply); err != nil {
				http.Error(w, "Failed to write reply", http.StatusInternalServerError)
				return
			}
		}
		if obs != nil {
			obs.Observe(transport.Exchange{
				Transport: "admin",
				Source:    r.RemoteAddr,
				Line:      command,
				Reply:     reply,
				Replied:   ok,
				At:        time.Now(),
			})
		}
		if !ok {
			io.WriteString(w, "(no reply)")
			return
		}
		io.WriteString(w, reply)
	})

	// Server-Sent Events stream of console traffic.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

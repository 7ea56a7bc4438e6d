package connections

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	mw "github.com/dropDatabas3/linkbroker/internal/http/middlewares"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
)

type pageData struct {
	Nonce      string
	Title      string
	Message    string
	Payload    template.JS
	AppOrigin  string
	CloseAfter int64
	ClosedURL  string
}

// El payload va serializado con encoding/json y marcado como template.JS,
// así que no pasa por el escape de html/template.
var bridgePage = template.Must(template.New("bridge").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="referrer" content="no-referrer">
<title>{{.Title}}</title>
<style nonce="{{.Nonce}}">body{font-family:system-ui,sans-serif;margin:3rem;text-align:center;color:#222}</style>
</head>
<body>
<p>{{.Message}}</p>
<script nonce="{{.Nonce}}">
(function () {
  var payload = {{.Payload}};
  var closedURL = {{.ClosedURL}};
  if (payload && window.opener && !window.opener.closed) {
    try { window.opener.postMessage(payload, {{.AppOrigin}}); } catch (e) {}
  }
  if (closedURL) {
    window.addEventListener("pagehide", function () {
      if (navigator.sendBeacon) { navigator.sendBeacon(closedURL); }
    });
  }
  setTimeout(function () { window.close(); }, {{.CloseAfter}});
})();
</script>
</body>
</html>
`))

// Callback maneja GET /connections/callback: el destino final del flujo en el popup.
// Extrae el resultado del query, lo publica en el bus del proceso y devuelve la
// página que reenvía el mismo payload al opener y se cierra sola.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Connections.Callback"))

	q := r.URL.Query()
	res := broker.ExtractOutcomeFromLocation(q)
	data := pageData{
		Nonce:      mw.GetNonce(ctx),
		Title:      "Connection",
		Message:    "Nothing to report. You can close this window.",
		Payload:    template.JS("null"),
		AppOrigin:  c.d.AppOrigin,
		CloseAfter: c.d.CloseDelay.Milliseconds(),
	}
	state := strings.TrimSpace(q.Get("state"))
	if p := broker.NormalizePlatform(q.Get("platform")); broker.IsSupported(p) && state != "" {
		data.ClosedURL = "/connections/closed?label=" + url.QueryEscape(broker.PopupLabel(p, state))
	}

	payload, ok := broker.PayloadFor(res)
	switch {
	case res == nil:
		log.Debug("bridge page without outcome")
	case ok && payload.State == "":
		// Sin state no hay intento que correlacionar: ni bus ni postMessage.
		log.Warn("bridge outcome without state dropped",
			logger.Platform(payload.Platform),
			logger.String("type", payload.Type),
		)
		data.Message = "This link is missing its authorization state. Start the connection again from the app."
	case ok:
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Error("could not encode bridge payload", logger.Err(err))
		} else {
			data.Payload = template.JS(raw)
		}
		if c.d.Bus != nil {
			if err := c.d.Bus.PublishPayload(c.d.PageOrigin, payload); err != nil {
				log.Error("bus publish failed", logger.Err(err))
			}
		}
		log.Info("bridge outcome delivered",
			logger.Platform(payload.Platform),
			logger.String("type", payload.Type),
		)
		data.Title, data.Message = pageCopy(res)
	default:
		data.Title, data.Message = pageCopy(res)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bridgePage.Execute(w, data); err != nil {
		log.Error("bridge page render failed", logger.Err(err))
	}
}

func pageCopy(res broker.Resolution) (title, msg string) {
	name := displayName(res.OutcomePlatform())
	switch r := res.(type) {
	case *broker.SuccessOutcome:
		return name + " connected", "Your " + name + " account is being connected. This window will close."
	case *broker.ErrorOutcome:
		if r.ErrorCode == "access_denied" {
			return "Connection cancelled", "You cancelled the " + name + " authorization. This window will close."
		}
		return "Connection failed", name + " rejected the connection. Return to the app for details."
	}
	return "Connection", "You can close this window."
}

func displayName(platform string) string {
	if platform == "" {
		return "the platform"
	}
	return strings.ToUpper(platform[:1]) + platform[1:]
}

// Closed maneja POST /connections/closed?label=: el beacon de pagehide.
func (c *Controller) Closed(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimSpace(r.URL.Query().Get("label"))
	if label != "" && c.d.Closed != nil {
		if c.d.Closed.MarkClosed(label) {
			logger.From(r.Context()).Debug("popup reported closed", logger.String("label", label))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package web serves the daemon's own HTTP surface: a health endpoint, a
// standalone analysis API, language preference endpoints, the page websocket,
// and a small landing page.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/lang"
	"github.com/neurosense/decoder/internal/overlay"
)

// Deps are the collaborators the web surface exposes.
type Deps struct {
	// Responder handles analysis and preference requests. Required.
	Responder *bridge.Responder

	// Hub serves websocket upgrades on overlay.SocketPath. Optional.
	Hub *bridge.Hub

	// Prefs backs the language endpoints. Required.
	Prefs bridge.PreferenceStore
}

// NewHandler builds the HTTP handler.
func NewHandler(deps Deps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		sessions := int64(0)
		if deps.Hub != nil {
			sessions = deps.Hub.SessionCount()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": sessions,
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.POST("/api/analyze", analyze(deps.Responder))
	r.GET("/api/language", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"language": deps.Prefs.Language()})
	})
	r.PUT("/api/language", setLanguage(deps.Prefs))

	if deps.Hub != nil {
		r.GET(overlay.SocketPath, gin.WrapH(deps.Hub))
	}
	r.GET("/", landing)

	return r
}

// analyze runs one request through the same responder the websocket uses, so
// the standalone surface and the in-page surface cannot drift apart. The
// envelope carries its own success flag; HTTP status stays 200 for handled
// failures.
func analyze(responder *bridge.Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bridge.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		req.Action = bridge.ActionAnalyzeText

		c.JSON(http.StatusOK, responder.Handle(c.Request.Context(), req))
	}
}

func setLanguage(prefs bridge.PreferenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Language string `json:"language" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := prefs.SetLanguage(lang.Code(body.Language)); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"language": body.Language})
	}
}

func landing(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, landingPage)
}

// The landing page carries the installed marker so a first-party page loaded
// through the proxy and one loaded directly look the same to scripts probing
// for it.
const landingPage = `<!doctype html>
<html lang="en" data-decoder-installed="true">
<head><meta charset="utf-8"><title>Tone Decoder</title></head>
<body>
<h1>Tone Decoder</h1>
<p>The decoder daemon is running. Open a proxied chat host to use the overlay,
or POST to /api/analyze directly.</p>
</body>
</html>
`

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

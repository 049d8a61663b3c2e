// Package static serves the embedded agent and caller web app.
package static

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	pathpkg "path"
	"strings"

	"github.com/tariel-x/agentdesk/internal/config"

	"github.com/gin-gonic/gin"
)

const (
	distDir           = "dist"
	apiKeyPlaceholder = `window.OPENTOK_API_KEY=""`
)

//go:embed all:dist
var distFiles embed.FS

// apiPrefixes never fall back to the app.
var apiPrefixes = []string{"/api", "/call", "/dial", "/healthz"}

// RegisterUIRoutes serves the embedded bundle for every unmatched route.
func RegisterUIRoutes(router *gin.Engine, cfg *config.Config) {
	// Gin can't combine a root catch-all with /api and friends, so the app
	// is mounted as the NoRoute handler.
	router.NoRoute(newUIHandler(cfg))
}

func newUIHandler(cfg *config.Config) gin.HandlerFunc {
	distFS, err := fs.Sub(distFiles, distDir)
	if err != nil {
		return func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "web bundle is missing")
		}
	}

	fileServer := http.FileServer(http.FS(distFS))

	return func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Not found", "status": http.StatusNotFound})
			return
		}

		cleaned := pathpkg.Clean("/" + strings.TrimPrefix(c.Request.URL.Path, "/"))
		if strings.HasPrefix(cleaned, "/..") {
			c.Status(http.StatusNotFound)
			return
		}
		requestPath := strings.TrimPrefix(cleaned, "/")
		if requestPath == "" || requestPath == "index.html" {
			serveIndex(c, distFS, cfg)
			return
		}

		info, err := fs.Stat(distFS, requestPath)
		if err != nil || info.IsDir() {
			serveIndex(c, distFS, cfg)
			return
		}

		c.Request.URL.Path = "/" + requestPath
		fileServer.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}

func isAPIPath(p string) bool {
	for _, prefix := range apiPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

func serveIndex(c *gin.Context, distFS fs.FS, cfg *config.Config) {
	indexFile, err := distFS.Open("index.html")
	if err != nil {
		c.String(http.StatusServiceUnavailable, "web entrypoint not found")
		return
	}
	defer indexFile.Close()

	content, err := io.ReadAll(indexFile)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to read web entrypoint")
		return
	}

	apiKey := ""
	if cfg != nil {
		apiKey = cfg.OpenTok.APIKey
	}
	html := strings.Replace(string(content), apiKeyPlaceholder, fmt.Sprintf("window.OPENTOK_API_KEY=%q", apiKey), 1)

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.String(http.StatusOK, html)
}

package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Sternrassler/exchange-cache/pkg/metrics"
)

// Route mounts a Pipeline below Path.
type Route struct {
	Path     string
	Pipeline *Pipeline
}

// NewRouter serves /health, /metrics and every route. Callers may mount
// further handlers on the returned router.
func NewRouter(routes ...Route) (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	for _, rt := range routes {
		if rt.Pipeline == nil {
			return nil, fmt.Errorf("route %q has no pipeline", rt.Path)
		}
		path := "/" + strings.Trim(rt.Path, "/")
		if path == "/" {
			r.Handle("/*", rt.Pipeline)
			continue
		}
		r.Handle(path, rt.Pipeline)
		r.Handle(path+"/*", rt.Pipeline)
	}
	return r, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

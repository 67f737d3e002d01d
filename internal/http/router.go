package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Activity   *ActivityHandler
	Presence   *PresenceHandler
	Health     *HealthHandler
	Metrics    http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Activity != nil {
		mux.HandleFunc("/activity", only(http.MethodGet, cfg.Activity.Get))
		mux.HandleFunc("/activity/wait", only(http.MethodGet, cfg.Activity.Wait))
	}

	if cfg.Presence != nil {
		mux.HandleFunc("/presence/heartbeat", only(http.MethodPost, cfg.Presence.Heartbeat))
		mux.HandleFunc("/presence/login", only(http.MethodPost, cfg.Presence.Login))
		mux.HandleFunc("/presence/logout", only(http.MethodPost, cfg.Presence.Logout))
		mux.HandleFunc("/presence/snapshot", only(http.MethodGet, cfg.Presence.Snapshot))
	}

	if cfg.Health != nil {
		mux.HandleFunc("/healthz", only(http.MethodGet, cfg.Health.Check))
	}

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

func only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			methodNotAllowed(w, method)
			return
		}
		next(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

package server

import "net/http"

// NewHandler wires the API routes. ah may be nil when no archive is served.
func NewHandler(ms *MapServer, ah *ArchiveHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /v1/status", ms.StatusHandler())
	mux.Handle("GET /v1/status/stream", ms.StatusStreamHandler())
	mux.Handle("POST /v1/maps", ms.MapSetHandler())
	mux.Handle("POST /v1/maps/{kind}", ms.MapHandler())

	if ah != nil {
		mux.Handle("GET /v1/archive", ah.ListHandler())
		mux.Handle("GET /v1/archive/{source}/{kind}", ah.MapHandler())
	}

	return withCORS(mux)
}

// withCORS lets browser-based previews call the API from any origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

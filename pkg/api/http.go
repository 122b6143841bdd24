package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/manager"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/cuemby/canopy/pkg/types"
)

// HTTPServer serves health, readiness, metrics and read access to the
// committed data
type HTTPServer struct {
	manager *manager.Manager
	mux     *http.ServeMux
	server  *http.Server
}

// NewHTTPServer creates the HTTP server
func NewHTTPServer(mgr *manager.Manager) *HTTPServer {
	mux := http.NewServeMux()
	hs := &HTTPServer{
		manager: mgr,
		mux:     mux,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", getOnly(metrics.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(metrics.ReadyHandler()))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/data", getOnly(hs.dataHandler))

	return hs
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Start listens on addr and serves until Shutdown
func (hs *HTTPServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(lis)
}

// Serve serves on an existing listener until Shutdown
func (hs *HTTPServer) Serve(lis net.Listener) error {
	log.Logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")
	if err := hs.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests
func (hs *HTTPServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (hs *HTTPServer) Handler() http.Handler {
	return hs.mux
}

// DataResponse is the body of the /data endpoint
type DataResponse struct {
	Datastore types.DatastoreType `json:"datastore"`
	Path      string              `json:"path"`
	Value     any                 `json:"value"`
}

// dataHandler implements GET /data?datastore=config&path=/a. The datastore
// defaults to config and the path to the datastore root.
func (hs *HTTPServer) dataHandler(w http.ResponseWriter, r *http.Request) {
	if hs.manager == nil {
		http.Error(w, "datastore not initialized", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	kind := types.Config
	if ds := q.Get("datastore"); ds != "" {
		parsed, err := types.ParseDatastoreType(ds)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = parsed
	}
	path, err := types.ParsePath(q.Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node, found, err := hs.manager.Read(kind, path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no data at "+path.String(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{
		Datastore: kind,
		Path:      path.String(),
		Value:     types.ToValue(node),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Package admin exposes the metrics, health and debug-snapshot HTTP surface
// every component of this core runs alongside, grounded on the teacher's
// pkg/admin server.
package admin

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zerotrustmesh/ztunnel-state/pkg/state"
)

type handler struct {
	promHandler http.Handler
	enablePprof bool
	proxyState  *state.ProxyState
}

// NewServer returns an initialized *http.Server, configured to listen on
// addr. proxyState backs the /state debug endpoint; it may be nil if no
// snapshot should be served.
func NewServer(addr string, enablePprof bool, proxyState *state.ProxyState) *http.Server {
	h := &handler{
		promHandler: promhttp.Handler(),
		enablePprof: enablePprof,
		proxyState:  proxyState,
	}

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	const debugPathPrefix = "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case debugPathPrefix + "cmdline":
			pprof.Cmdline(w, req)
		case debugPathPrefix + "profile":
			pprof.Profile(w, req)
		case debugPathPrefix + "trace":
			pprof.Trace(w, req)
		case debugPathPrefix + "symbol":
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}

	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		h.servePing(w)
	case "/ready":
		h.serveReady(w)
	case "/state":
		h.serveState(w)
	default:
		http.NotFound(w, req)
	}
}

func (h *handler) servePing(w http.ResponseWriter) {
	_, _ = w.Write([]byte("pong\n"))
}

func (h *handler) serveReady(w http.ResponseWriter) {
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) serveState(w http.ResponseWriter) {
	if h.proxyState == nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h.proxyState.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Command proxystate-agent wires the proxy state core (workload/service/
// policy store, DNS resolver, demand facade) behind an admin HTTP surface.
// It does not speak xDS/ADS itself -- the discovery updater and the
// connection pipeline are external collaborators (spec §1) that would call
// into the types constructed here.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zerotrustmesh/ztunnel-state/pkg/admin"
	"github.com/zerotrustmesh/ztunnel-state/pkg/demand"
	"github.com/zerotrustmesh/ztunnel-state/pkg/flags"
	"github.com/zerotrustmesh/ztunnel-state/pkg/resolver"
	"github.com/zerotrustmesh/ztunnel-state/pkg/state"
)

func main() {
	cmd := flag.NewFlagSet("proxystate-agent", flag.ExitOnError)

	metricsAddr := cmd.String("admin-addr", ":15021", "address to serve the admin/debug HTTP surface on")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	dnsServer := cmd.String("dns-server", "", "upstream DNS server (host:port) to query directly; empty uses the OS resolver")

	flags.ConfigureAndParse(cmd, os.Args[1:])

	proxyState := state.New()

	var lookup resolver.Lookup
	if *dnsServer != "" {
		lookup = resolver.NewMiekgLookup(*dnsServer)
	} else {
		lookup = resolver.NewNetLookup()
	}
	dnsResolver := resolver.New(lookup)

	// No discovery client is attached by default: until a caller wires one
	// in (e.g. an ADS client living outside this module), fetch misses are
	// final, per spec §4.F.
	facade := demand.New(proxyState, dnsResolver, nil)
	_ = facade // consumed by the connection pipeline, external to this module

	adminServer := admin.NewServer(*metricsAddr, *enablePprof, proxyState)

	go func() {
		log.Infof("starting admin server on %s", *metricsAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error: %s", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(ctx)
}

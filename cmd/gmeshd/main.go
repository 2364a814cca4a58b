// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// gmeshd is the gmesh daemon: a protocol stack of a UDP transport and the
// reliable unicast layer, topped by an echo agent, fed by multicast
// discovery or a static peer list, with an optional HTTP endpoint for
// metrics and introspection.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"

	"github.com/gmesh/gmesh-go/pkg/agent"
	"github.com/gmesh/gmesh-go/pkg/discovery"
	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/telemetry"
	"github.com/gmesh/gmesh-go/pkg/transport/udp"
	"github.com/gmesh/gmesh-go/pkg/unicast"
)

// waitSignal blocks until a SIGINT or SIGTERM appears.
func waitSignal() {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)
	<-signalSyn
}

// watchConfig re-applies the Logging block whenever the configuration file
// changes on disk.
func watchConfig(filename string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filename); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				conf, err := loadConfig(filename)
				if err != nil {
					log.WithError(err).Warn("Ignoring changed but malformed configuration")
					continue
				}

				log.Info("Configuration changed, re-applying logging settings")
				applyLogging(conf.Logging)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Configuration watcher errored")
			}
		}
	}()

	return watcher, nil
}

// debugServer mounts the metrics and introspection routes.
func debugServer(listen string, layer *unicast.Layer) *http.Server {
	router := mux.NewRouter()

	router.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)

	dumps := map[string]func() string{
		"/debug/connections": layer.PrintConnections,
		"/debug/unacked":     layer.PrintUnackedMessages,
		"/debug/age-cache":   layer.PrintAgeOutCache,
	}
	for route, dump := range dumps {
		dump := dump
		router.HandleFunc(route, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(dump()))
		}).Methods(http.MethodGet)
	}

	router.HandleFunc("/debug/reset-stats", func(w http.ResponseWriter, _ *http.Request) {
		layer.ResetStats()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/debug/connections/reset", func(w http.ResponseWriter, _ *http.Request) {
		layer.RemoveAllConnections()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	server := &http.Server{Addr: listen, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Debug HTTP server failed")
		}
	}()

	log.WithField("listen", listen).Info("Debug HTTP server started")
	return server
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse configuration")
	}

	applyLogging(conf.Logging)

	local := stack.NewNodeAddr(conf.Core.Node)
	scheduler := sched.NewScheduler()

	transport, err := udp.NewTransport(local, conf.Core.Listen)
	if err != nil {
		log.WithError(err).Fatal("Failed to create UDP transport")
	}

	unicastLayer, err := unicast.NewLayer(unicastConfig(conf.Unicast), scheduler)
	if err != nil {
		log.WithError(err).Fatal("Failed to create unicast layer")
	}

	s, err := stack.NewStack(transport, unicastLayer)
	if err != nil {
		log.WithError(err).Fatal("Failed to build stack")
	}
	s.OnDeliver(agent.NewEchoAgent(s).Handler())

	if err := s.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start stack")
	}

	ctx := context.Background()
	s.Inject(ctx, stack.SetLocalAddressEvent{Addr: local})
	s.Inject(ctx, stack.ConnectEvent{})

	peers, err := staticPeers(conf.Peer)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse peer blocks")
	}
	peerAddrs := make([]stack.Addr, 0, len(peers))
	for addr, endpoint := range peers {
		if err := transport.SetPeer(addr, endpoint); err != nil {
			log.WithError(err).WithField("peer", addr).Fatal("Failed to register peer")
		}
		peerAddrs = append(peerAddrs, addr)
	}
	s.Inject(ctx, stack.ViewEvent{View: discovery.StaticView(local, peerAddrs...)})

	var discoveryManager *discovery.Manager
	if conf.Discovery.Enabled {
		_, portStr, err := net.SplitHostPort(conf.Core.Listen)
		if err != nil {
			log.WithError(err).Fatal("Failed to split listen endpoint")
		}
		transportPort, err := strconv.Atoi(portStr)
		if err != nil {
			log.WithError(err).Fatal("Failed to parse listen port")
		}

		discoveryManager, err = discovery.NewManager(
			local, uint(transportPort),
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6,
			func(view *stack.View) {
				s.Inject(context.Background(), stack.ViewEvent{View: view})
			},
			func(addr stack.Addr, endpoint string) {
				if err := transport.SetPeer(addr, endpoint); err != nil {
					log.WithError(err).WithField("peer", addr).Warn("Failed to register discovered peer")
				}
			})
		if err != nil {
			log.WithError(err).Fatal("Failed to start discovery")
		}
	}

	telemetry.RegisterUnicast(unicastLayer)
	var debug *http.Server
	if conf.Debug.Listen != "" {
		debug = debugServer(conf.Debug.Listen, unicastLayer)
	}

	watcher, err := watchConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Warn("Configuration file will not be watched")
	}

	log.WithField("node", local).Info("gmeshd is up")

	waitSignal()
	log.Info("Shutting down..")

	var shutdownErr *multierror.Error

	if watcher != nil {
		shutdownErr = multierror.Append(shutdownErr, watcher.Close())
	}
	if debug != nil {
		shutdownErr = multierror.Append(shutdownErr, debug.Shutdown(context.Background()))
	}
	if discoveryManager != nil {
		discoveryManager.Close()
	}

	shutdownErr = multierror.Append(shutdownErr, s.Stop())
	scheduler.Stop()

	if err := shutdownErr.ErrorOrNil(); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
	}
}

// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/unicast"
)

// tomlConfig describes the TOML configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Discovery discoveryConf
	Peer      []peerConf
	Unicast   unicastConf
	Debug     debugConf
}

// coreConf describes the Core configuration block.
type coreConf struct {
	Node   string
	Listen string
}

// logConf describes the Logging configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// discoveryConf describes the Discovery configuration block.
type discoveryConf struct {
	Enabled  bool
	IPv4     bool
	IPv6     bool
	Interval uint
}

// peerConf describes one static Peer block.
type peerConf struct {
	Node     string
	Endpoint string
}

// unicastConf describes the Unicast configuration block. Durations are
// milliseconds.
type unicastConf struct {
	Timeouts          []int64 `toml:"timeouts"`
	MaxRetransmitTime int64   `toml:"max-retransmit-time"`
	Loopback          bool
}

// debugConf describes the Debug configuration block for the HTTP
// introspection endpoint. An empty listen address disables it.
type debugConf struct {
	Listen string
}

// loadConfig parses and sanity-checks the TOML configuration file.
func loadConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if conf.Core.Node == "" {
		err = fmt.Errorf("core.node must be set")
		return
	}
	if conf.Core.Listen == "" {
		err = fmt.Errorf("core.listen must be set")
		return
	}
	if conf.Discovery.Enabled && conf.Discovery.Interval == 0 {
		conf.Discovery.Interval = 5
	}

	return
}

// applyLogging configures logrus from the Logging block. It is re-applied
// when the configuration file changes on disk.
func applyLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// unicastConfig maps the Unicast block onto the layer's Config.
func unicastConfig(conf unicastConf) unicast.Config {
	cfg := unicast.DefaultConfig()

	if len(conf.Timeouts) > 0 {
		cfg.Timeouts = make([]time.Duration, len(conf.Timeouts))
		for i, timeout := range conf.Timeouts {
			cfg.Timeouts[i] = time.Duration(timeout) * time.Millisecond
		}
	}
	if conf.MaxRetransmitTime != 0 {
		cfg.MaxRetransmitTime = time.Duration(conf.MaxRetransmitTime) * time.Millisecond
	}
	cfg.Loopback = conf.Loopback

	return cfg
}

// staticPeers parses the Peer blocks.
func staticPeers(confs []peerConf) (map[stack.Addr]string, error) {
	peers := make(map[stack.Addr]string, len(confs))
	for _, conf := range confs {
		if conf.Node == "" || conf.Endpoint == "" {
			return nil, fmt.Errorf("peer blocks need both node and endpoint")
		}
		peers[stack.NewNodeAddr(conf.Node)] = conf.Endpoint
	}
	return peers, nil
}

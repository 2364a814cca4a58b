// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the tunables of the unicast layer.
type Config struct {
	// Timeouts are the retransmission intervals. Attempt n waits
	// Timeouts[min(n, len-1)]; the last interval repeats forever.
	Timeouts []time.Duration

	// MaxRetransmitTime bounds how long a connection to an unreachable
	// non-member peer is kept before the age-out cache tears it down.
	// Zero disables the age-out cache.
	MaxRetransmitTime time.Duration

	// Loopback is deprecated and must stay false: looping self-sent
	// messages back above the retransmitter destroys ordering.
	Loopback bool
}

// DefaultConfig returns the default unicast configuration.
func DefaultConfig() Config {
	return Config{
		Timeouts: []time.Duration{
			400 * time.Millisecond,
			800 * time.Millisecond,
			1600 * time.Millisecond,
			3200 * time.Millisecond,
		},
		MaxRetransmitTime: 60 * time.Second,
	}
}

// Validate checks this Config and normalizes deprecated fields.
func (cfg *Config) Validate() error {
	if len(cfg.Timeouts) == 0 {
		return fmt.Errorf("timeouts must not be empty")
	}
	for _, timeout := range cfg.Timeouts {
		if timeout <= 0 {
			return fmt.Errorf("timeout %v is not positive", timeout)
		}
	}
	if cfg.MaxRetransmitTime < 0 {
		return fmt.Errorf("max retransmit time %v is negative", cfg.MaxRetransmitTime)
	}

	if cfg.Loopback {
		log.Warn("The loopback option is deprecated and will not be honored")
		cfg.Loopback = false
	}

	return nil
}

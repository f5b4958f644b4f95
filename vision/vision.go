// Package vision delivers projectile measurements to the interceptor. A Source produces
// (id, t, p) tuples from a simulator, a UDP feed or a NATS subject; the Queue hands them to the
// vision loop without ever blocking the producer.
package vision

import (
	"context"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Measurement is one observed projectile position.
type Measurement struct {
	ID int       `json:"id"`
	T  float64   `json:"t"`
	P  r3.Vector `json:"p"`
}

// Source produces measurements until ctx is done. emit must not block; Run returns ctx.Err()
// on cancellation.
type Source interface {
	Run(ctx context.Context, emit func(Measurement)) error
}

// warnInterval bounds how often a source repeats a transport warning.
const warnInterval = 5 * time.Second

// Clock returns the controller time, in seconds, used to stamp measurements on arrival.
type Clock func() float64

// Kind selects a Source implementation.
type Kind string

// The known source kinds.
const (
	KindSim  Kind = "sim"
	KindUDP  Kind = "udp"
	KindNATS Kind = "nats"
)

// Config configures the vision source.
type Config struct {
	Kind Kind `json:"kind"`
	// RateHz is the observation rate of the simulated source.
	RateHz float64 `json:"rate_hz"`
	// Address is the UDP listen address or the NATS server URL.
	Address string `json:"address,omitempty"`
	Subject string `json:"subject,omitempty"`
	// Restamp replaces sender timestamps with the arrival time.
	Restamp   bool `json:"restamp,omitempty"`
	QueueSize int  `json:"queue_size"`
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindSim:
		if cfg.RateHz <= 0 {
			return errors.Errorf("simulated vision rate must be positive, got %v", cfg.RateHz)
		}
	case KindUDP:
		if cfg.Address == "" {
			return errors.New("udp vision source needs an address")
		}
	case KindNATS:
		if cfg.Address == "" || cfg.Subject == "" {
			return errors.New("nats vision source needs an address and a subject")
		}
	default:
		return errors.Errorf("unknown vision source kind %q", cfg.Kind)
	}
	if cfg.QueueSize < 1 {
		return errors.Errorf("vision queue size must be positive, got %d", cfg.QueueSize)
	}
	return nil
}

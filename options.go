package usbshell

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

type opts struct {
	log    hclog.Logger
	cfg    *Config
	pub    *TelemetryPublisher
	idGen  func() string
	linger time.Duration
}

type Option func(o *opts)

func WithLogger(log hclog.Logger) Option {
	return func(o *opts) {
		o.log = log
	}
}

func WithConfig(cfg *Config) Option {
	return func(o *opts) {
		o.cfg = cfg
	}
}

func WithTelemetry(pub *TelemetryPublisher) Option {
	return func(o *opts) {
		o.pub = pub
	}
}

func WithSessionIDGen(f func() string) Option {
	return func(o *opts) {
		o.idGen = f
	}
}

// WithLinger overrides the pause between the dispatcher exiting and
// the carrier being released, normally 500ms so the host can observe
// the final response before the endpoint goes away.
func WithLinger(d time.Duration) Option {
	return func(o *opts) {
		o.linger = d
	}
}

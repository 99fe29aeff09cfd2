package usbshell

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"
)

// SessionSummary is the one CBOR-encoded message a session publishes
// after unmount and before its final sleep, if telemetry is configured.
type SessionSummary struct {
	SessionID       string         `cbor:"1,keyasint"`
	StartedAt       time.Time      `cbor:"2,keyasint"`
	Duration        time.Duration  `cbor:"3,keyasint"`
	CommandCounts   map[string]int `cbor:"4,keyasint"`
	TerminationKind string         `cbor:"5,keyasint"`
	ProtocolFatals  uint64         `cbor:"6,keyasint"`
}

// TelemetryPublisher sends one best-effort session summary to a fixed
// NATS subject. A connect failure or publish failure is logged and
// swallowed: telemetry never fails session teardown, and delays it by
// at most its 2s connect and 2s flush timeouts.
type TelemetryPublisher struct {
	log     hclog.Logger
	url     string
	subject string
}

func NewTelemetryPublisher(log hclog.Logger, url string) *TelemetryPublisher {
	return &TelemetryPublisher{log: log, url: url, subject: "usbshell.session.summary"}
}

func (t *TelemetryPublisher) Publish(summary SessionSummary) {
	if t == nil || t.url == "" {
		return
	}

	conn, err := nats.Connect(t.url, nats.Timeout(2*time.Second))
	if err != nil {
		t.log.Warn("telemetry: connect failed", "error", err)
		return
	}
	defer conn.Close()

	data, err := cbor.Marshal(summary)
	if err != nil {
		t.log.Warn("telemetry: encode failed", "error", err)
		return
	}

	if err := conn.Publish(t.subject, data); err != nil {
		t.log.Warn("telemetry: publish failed", "error", err)
		return
	}

	if err := conn.FlushTimeout(2 * time.Second); err != nil {
		t.log.Warn("telemetry: flush failed", "error", err)
	}
}

package main

import (
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/camfw/usbshell"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fConfig  = flag.String("config", usbshell.DefaultConfigPath, "path to configuration")
	fMetrics = flag.String("metrics", "", "address to serve metrics on (overrides config)")
)

func main() {
	flag.Parse()

	level := hclog.Info

	if os.Getenv("USBSHELL_DEBUG") != "" {
		level = hclog.Trace
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "usbshelld",
		Level: level,
		Color: hclog.AutoColor,

		ColorHeaderAndFields: true,
	})

	cfg, err := usbshell.LoadConfig(*fConfig)
	if err != nil {
		log.Error("error loading configuration", "error", err)
		os.Exit(1)
	}

	metricsAddr := cfg.Metrics.ListenAddr
	if *fMetrics != "" {
		metricsAddr = *fMetrics
	}

	if metricsAddr != "" {
		l, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			log.Error("error listening for metrics", "error", err, "addr", metricsAddr)
			os.Exit(1)
		}

		log.Info("serving metrics", "addr", metricsAddr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		go http.Serve(l, mux)
	}

	carrier, err := usbshell.OpenVendorCarrier(cfg.Device.ControlNode)
	if err != nil {
		log.Error("error opening vendor control node", "error", err, "path", cfg.Device.ControlNode)
		os.Exit(1)
	}
	defer carrier.Close()

	var pub *usbshell.TelemetryPublisher
	if cfg.Telemetry.NATSURL != "" {
		pub = usbshell.NewTelemetryPublisher(log, cfg.Telemetry.NATSURL)
	}

	session, closeCaps := usbshell.NewSession(carrier,
		usbshell.WithLogger(log),
		usbshell.WithConfig(cfg),
		usbshell.WithTelemetry(pub),
	)
	defer closeCaps()

	session.Run()
}

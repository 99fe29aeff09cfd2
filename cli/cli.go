// Package cli is the admin front end for local development: inspect
// the capability table a config produces, validate a capability
// manifest, and smoke-test the dispatcher over an in-memory loopback
// carrier without real USB hardware.
package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/camfw/usbshell"
	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/transfer"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/lab47/cleo"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
)

type CLI struct {
	log hclog.Logger

	lc *cli.CLI
}

type Global struct {
	Config string `short:"c" long:"config" description:"shell configuration" required:"true"`
	Debug  bool   `short:"D" long:"debug" description:"enable debug mode"`
}

func NewCLI(log hclog.Logger, args []string) (*CLI, error) {
	c := &CLI{
		log: log,
		lc:  cli.NewCLI("usbshellctl", "alpha"),
	}

	c.lc.Args = args

	err := c.setupCommands()
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *CLI) Run() (int, error) {
	return c.lc.Run()
}

func (c *CLI) setupCommands() error {
	c.lc.Commands = map[string]cli.CommandFactory{
		"capability list": func() (cli.Command, error) {
			return cleo.Infer("capability list", "list the property and tweak tables", c.capabilityList), nil
		},
		"manifest validate": func() (cli.Command, error) {
			return cleo.Infer("manifest validate", "parse and print a capability manifest", c.manifestValidate), nil
		},
		"session loopback": func() (cli.Command, error) {
			return cleo.Infer("session loopback", "run a dispatcher session over an in-memory carrier", c.sessionLoopback), nil
		},
	}

	return nil
}

func (c *CLI) loadConfig(path string) *usbshell.Config {
	cfg, err := usbshell.LoadConfig(path)
	if err != nil {
		c.log.Error("error loading configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func (c *CLI) capabilityList(ctx context.Context, opts struct {
	Global
}) error {
	cfg := c.loadConfig(opts.Config)

	if opts.Debug {
		c.log.SetLevel(hclog.Trace)
	}

	caps, closeCaps := usbshell.BuildCapabilities(c.log, cfg)
	defer closeCaps()

	yes := color.New(color.FgGreen).Sprint("yes")
	no := color.New(color.FgRed).Sprint("no")

	tr := tabwriter.NewWriter(os.Stdout, 2, 2, 1, ' ', 0)
	defer tr.Flush()

	fmt.Fprintf(tr, "KIND\tID\tAVAILABLE\tVALUE\n")

	for _, p := range caps.Properties {
		avail := no
		if p.IsAvailable() {
			avail = yes
		}
		fmt.Fprintf(tr, "property\t%s\t%s\t%s\n", p.ID(), avail, p.StringValue())
	}

	for _, t := range caps.Tweaks {
		avail := no
		if t.IsAvailable() {
			avail = yes
		}
		fmt.Fprintf(tr, "tweak\t%s\t%s\t%s\n", t.ID(), avail, t.StringValue())
	}

	fmt.Fprintf(tr, "backup\t\t%v\t\n", caps.Backup != nil)
	fmt.Fprintf(tr, "bootloader\t\t%v\t\n", caps.Bootloader != nil)
	fmt.Fprintf(tr, "android-data\t\t%v\t\n", caps.AndroidData != nil)

	return nil
}

func (c *CLI) manifestValidate(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"manifest file to validate" required:"true"`
}) error {
	m, err := capability.LoadManifest(opts.Path)
	if err != nil {
		return errors.Wrap(err, "validating manifest")
	}

	if m == nil {
		fmt.Printf("%s: no manifest present (all compiled-in capabilities available)\n", opts.Path)
		return nil
	}

	fmt.Printf("properties: %v\n", m.Properties)
	fmt.Printf("tweaks: %v\n", m.Tweaks)
	fmt.Printf("backup regions: %v\n", m.BackupRegions)

	return nil
}

// sessionLoopback runs one dispatcher session against an in-memory
// carrier and drives it from this process: TEST a few times, INFO,
// then EXIT, verifying the sequence counter stays in lockstep.
func (c *CLI) sessionLoopback(ctx context.Context, opts struct {
	Global
	Count int `short:"n" long:"count" description:"number of TEST exchanges to run"`
}) error {
	cfg := c.loadConfig(opts.Config)

	if opts.Debug {
		c.log.SetLevel(hclog.Trace)
	}

	count := opts.Count
	if count == 0 {
		count = 3
	}

	device, host := transfer.NewLoopback()

	session, closeCaps := usbshell.NewSession(device,
		usbshell.WithLogger(c.log),
		usbshell.WithConfig(cfg),
		usbshell.WithLinger(0),
	)
	defer closeCaps()

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Run()
	}()

	master := transfer.NewMaster(host)

	exchange := func(cmd wire.CommandCode) (int32, error) {
		req := wire.RequestFrame{Command: cmd}
		reqWire := req.Marshal()
		if err := master.Write(reqWire, len(reqWire)); err != nil {
			return 0, err
		}

		respWire := make([]byte, wire.ResponseFrameSize)
		if err := master.Read(respWire, wire.ResponseFrameSize); err != nil {
			return 0, err
		}

		var resp wire.ResponseFrame
		if err := resp.Unmarshal(respWire); err != nil {
			return 0, err
		}
		return resp.Result, nil
	}

	for i := 0; i < count; i++ {
		result, err := exchange(wire.CmdTest)
		if err != nil {
			return errors.Wrap(err, "TEST exchange")
		}
		fmt.Printf("TEST %d/%d: result=%d seq=%d\n", i+1, count, result, master.Sequence())
	}

	result, err := exchange(wire.CmdInfo)
	if err != nil {
		return errors.Wrap(err, "INFO exchange")
	}
	if result == wire.ResultSuccess {
		if err := master.Write(nil, 0); err != nil {
			return errors.Wrap(err, "INFO probe")
		}
		info := make([]byte, wire.DeviceInfoSize)
		if err := master.Read(info, wire.DeviceInfoSize); err != nil {
			return errors.Wrap(err, "INFO body")
		}
		fmt.Printf("INFO: %q\n", info)
	} else {
		fmt.Printf("INFO: result=%d\n", result)
	}

	result, err = exchange(wire.CmdExit)
	if err != nil {
		return errors.Wrap(err, "EXIT exchange")
	}
	fmt.Printf("EXIT: result=%d\n", result)

	<-done

	fmt.Printf("session terminated cleanly after %d slave frames\n", master.Sequence())

	return nil
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/pflag"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	Check      bool
	Resolve    string
	Chain      string
	Inverse    bool
	Export     string
	Run        bool
	Targets    []string
	HttpMode   bool
	HttpPort   int
	MqttMode   bool
}

// Runner is what run dispatches to; *App implements it
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunCheck() error
	RunResolve(target string) error
	RunChain(chain string) error
	RunExport(path string) error
	RunTargets(names []string) error
	RunService() error
}

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := pflag.NewFlagSet("refframe", pflag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var showVersion bool
	fs.StringVarP(&opts.ConfigFile, "config", "c", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.Check, "check", false, "Load and derive all frames, verify round trips and targets, then exit")
	fs.StringVar(&opts.Resolve, "resolve", "", "Resolve a named target and print its pose command")
	fs.StringVar(&opts.Chain, "chain", "", "Compose a comma-separated list of frame pairs, e.g. globalsilvia,silviafilter")
	fs.BoolVar(&opts.Inverse, "inverse", false, "Print the inverse of the --chain result")
	fs.StringVar(&opts.Export, "export", "", "Write every stored frame to a calibration file")
	fs.BoolVar(&opts.Run, "run", false, "Send targets (positional args, default all) to the motion executor")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the read-only frames API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, else 8080)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Connect to the motion executor while serving")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Targets = fs.Args()

	fmt.Fprintf(out, "refframe version: %s\n", Version)
	if showVersion {
		return nil
	}

	app.ApplyOptions(opts)

	switch {
	case opts.Check:
		return app.RunCheck()
	case opts.Resolve != "":
		return app.RunResolve(opts.Resolve)
	case opts.Chain != "":
		return app.RunChain(opts.Chain)
	case opts.Export != "":
		return app.RunExport(opts.Export)
	case opts.Run:
		return app.RunTargets(opts.Targets)
	case opts.HttpMode || opts.MqttMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --check to validate the station configuration")
	fmt.Fprintln(out, "Use --resolve=TARGET to print a target's pose command")
	fmt.Fprintln(out, "Use --chain=a,b,c to compose frame pairs")
	fmt.Fprintln(out, "Use --export=PATH to write all frames to a calibration file")
	fmt.Fprintln(out, "Use --run [TARGET...] to send targets to the motion executor")
	fmt.Fprintln(out, "Use --http and/or --mqtt to run as a service")
	return nil
}

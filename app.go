package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/refframe/frames"
)

// awaiter is implemented by executors that report when a move finishes
type awaiter interface {
	Await(ctx context.Context, id string) (frames.MotionStatus, error)
}

// App encapsulates the application state and dependencies
type App struct {
	Config     *frames.Config
	Station    *frames.Station
	MQTTClient *frames.MQTTClient
	Publisher  *frames.Publisher
	Executor   frames.MotionExecutor
	Out        io.Writer

	ConfigFile     string
	Inverse        bool
	HttpPort       int
	HttpMode       bool
	MqttMode       bool
	ConnectTimeout time.Duration // how long --run waits for the broker (default 30s)
}

// NewApp creates a new App writing its reports to out
func NewApp(out io.Writer) *App {
	return &App{Out: out}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Inverse = opts.Inverse
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
	a.MqttMode = opts.MqttMode
}

// load reads the config and builds the frozen station once
func (a *App) load() error {
	if a.Station != nil {
		return nil
	}
	if a.Config == nil {
		config, err := frames.LoadConfig(a.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a.Config = config
		log.Printf("Loaded config from %s", a.ConfigFile)
	}

	station, err := frames.BuildStation(a.Config)
	if err != nil {
		return fmt.Errorf("building frames: %w", err)
	}
	a.Station = station
	log.Printf("Registry ready: %d frames, %d joint presets", station.Registry.Len(), len(station.Joints))
	return nil
}

// RunCheck lists every frame, checks its inverse round trip and resolves every target
func (a *App) RunCheck() error {
	if err := a.load(); err != nil {
		return err
	}
	reg := a.Station.Registry

	var failures []string
	fmt.Fprintf(a.Out, "%d frames:\n", reg.Len())
	for _, k := range reg.Keys() {
		t, err := reg.Get(k)
		if err != nil {
			return err
		}
		p := t.Translation()
		fmt.Fprintf(a.Out, "  %-28s %-9s t=(%.3f, %.3f, %.3f)\n", k, reg.State(k), p.X, p.Y, p.Z)
		if err := frames.CheckRoundTrip(t, reg.Tolerance()); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", k, err))
		}
	}

	fmt.Fprintf(a.Out, "%d targets:\n", len(a.Config.Targets))
	for _, spec := range a.Config.Targets {
		cmd, err := a.Station.Target(spec.Name)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		fmt.Fprintf(a.Out, "  %-28s %s\n", spec.Name, cmd.Motion)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintf(a.Out, "FAIL %s\n", f)
		}
		return fmt.Errorf("check failed: %d problem(s)", len(failures))
	}
	fmt.Fprintln(a.Out, "OK")
	return nil
}

// RunResolve prints the pose command for a target as JSON
func (a *App) RunResolve(target string) error {
	if err := a.load(); err != nil {
		return err
	}
	cmd, err := a.Station.Target(target)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(cmd)
}

// RunChain composes a comma-separated list of frame pairs and prints the result
func (a *App) RunChain(chain string) error {
	if err := a.load(); err != nil {
		return err
	}

	var steps []frames.Step
	for _, name := range strings.Split(chain, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k, err := frames.ParseKey(name)
		if err != nil {
			return err
		}
		steps = append(steps, frames.Ref(k))
	}
	if len(steps) == 0 {
		return fmt.Errorf("empty chain")
	}

	t, err := a.Station.Registry.Resolve(steps...)
	if err != nil {
		return err
	}
	if a.Inverse {
		t = frames.Invert(t)
	}
	fmt.Fprintln(a.Out, t.String())
	return nil
}

// RunExport writes every stored frame to path
func (a *App) RunExport(path string) error {
	if err := a.load(); err != nil {
		return err
	}
	if err := frames.ExportFrames(path, a.Station.Registry); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote %d frames to %s\n", a.Station.Registry.Len(), path)
	return nil
}

// RunTargets resolves the named targets (all configured targets when none are
// given) and sends them to the executor in order, waiting for each move to finish.
func (a *App) RunTargets(names []string) error {
	if err := a.load(); err != nil {
		return err
	}
	if len(names) == 0 {
		for _, t := range a.Config.Targets {
			names = append(names, t.Name)
		}
	}

	// Resolve everything before moving anything
	cmds := make([]frames.PoseCommand, 0, len(names))
	for _, name := range names {
		cmd, err := a.Station.Target(name)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.connectExecutor(); err != nil {
		return err
	}
	defer a.disconnect()
	if err := a.waitConnected(ctx); err != nil {
		return err
	}
	return a.execute(ctx, cmds)
}

func (a *App) execute(ctx context.Context, cmds []frames.PoseCommand) error {
	for _, cmd := range cmds {
		if err := a.Executor.MoveTo(ctx, cmd); err != nil {
			return fmt.Errorf("moving to %s: %w", cmd.Target, err)
		}
		if w, ok := a.Executor.(awaiter); ok {
			if _, err := w.Await(ctx, cmd.ID); err != nil {
				return fmt.Errorf("moving to %s: %w", cmd.Target, err)
			}
		}
		fmt.Fprintf(a.Out, "Reached %s\n", cmd.Target)
	}
	return nil
}

// connectExecutor sets up the MQTT publisher unless an executor was injected.
// Connecting continues in the background; see waitConnected.
func (a *App) connectExecutor() error {
	if a.Executor != nil {
		return nil
	}
	if a.MQTTClient == nil {
		client, err := frames.InitMQTT(a.Config, nil)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured (mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
	}
	a.Publisher = frames.NewPublisher(a.MQTTClient.GetClient(), a.MQTTClient.PublishPrefix())
	a.MQTTClient.SetStatusHandler(a.Publisher.HandleStatus)
	a.Executor = a.Publisher
	return nil
}

// waitConnected blocks until the MQTT client is subscribed and able to publish
func (a *App) waitConnected(ctx context.Context) error {
	if a.MQTTClient == nil {
		return nil
	}
	timeout := a.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("[MQTT] waiting up to %v for the broker", timeout)
	return a.MQTTClient.WaitConnected(ctx)
}

func (a *App) disconnect() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
}

// RunService serves the frames API and/or keeps an executor connection open until interrupted
func (a *App) RunService() error {
	if err := a.load(); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, "Starting refframe service...")

	if a.MqttMode {
		if err := a.connectExecutor(); err != nil {
			return err
		}
		defer a.disconnect()
		if a.MQTTClient != nil {
			fmt.Fprintf(a.Out, "MQTT commands: %s/command, status: %s\n",
				a.MQTTClient.PublishPrefix(), a.MQTTClient.StatusTopic())
		}
	}

	var srv *http.Server
	if a.HttpMode {
		port := a.HttpPort
		if port == 0 {
			port = a.Config.HTTP.Port
		}
		if port == 0 {
			port = 8080
		}
		srv = &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", port),
			Handler: newHTTPServer(a.Station),
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()

		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", port)
		fmt.Fprintln(a.Out, "  GET /health            - Health check")
		fmt.Fprintln(a.Out, "  GET /frames            - All stored frames")
		fmt.Fprintln(a.Out, "  GET /frames/{key}      - One frame, ?inverse=true for the reverse edge")
		fmt.Fprintln(a.Out, "  GET /targets           - Target names")
		fmt.Fprintln(a.Out, "  GET /targets/{name}    - Resolved pose command")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if srv != nil {
		if err := srv.Close(); err != nil {
			log.Printf("[HTTP] close: %v", err)
		}
	}
	return nil
}

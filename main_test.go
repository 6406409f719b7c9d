package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	sArg   string
	names  []string
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunCheck() error              { m.called["RunCheck"] = true; return nil }
func (m *mockApp) RunResolve(s string) error    { m.called["RunResolve"] = true; m.sArg = s; return nil }
func (m *mockApp) RunChain(s string) error      { m.called["RunChain"] = true; m.sArg = s; return nil }
func (m *mockApp) RunExport(s string) error     { m.called["RunExport"] = true; m.sArg = s; return nil }
func (m *mockApp) RunTargets(names []string) error {
	m.called["RunTargets"] = true
	m.names = names
	return nil
}
func (m *mockApp) RunService() error { m.called["RunService"] = true; return nil }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, *mockApp)
	}{
		{
			name:           "Check",
			args:           []string{"--check", "-c", "/tmp/station.yaml"},
			expectedCalled: "RunCheck",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.opts.ConfigFile != "/tmp/station.yaml" {
					t.Errorf("expected ConfigFile /tmp/station.yaml, got %s", m.opts.ConfigFile)
				}
			},
		},
		{
			name:           "Resolve",
			args:           []string{"--resolve", "above_silvia"},
			expectedCalled: "RunResolve",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.sArg != "above_silvia" {
					t.Errorf("expected target above_silvia, got %s", m.sArg)
				}
			},
		},
		{
			name:           "ChainInverse",
			args:           []string{"--chain=globalrobot,robotsilvia", "--inverse"},
			expectedCalled: "RunChain",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.sArg != "globalrobot,robotsilvia" {
					t.Errorf("unexpected chain %s", m.sArg)
				}
				if !m.opts.Inverse {
					t.Error("expected Inverse to be set")
				}
			},
		},
		{
			name:           "Export",
			args:           []string{"--export", "out.csv"},
			expectedCalled: "RunExport",
		},
		{
			name:           "RunTargets",
			args:           []string{"--run", "home", "above_silvia"},
			expectedCalled: "RunTargets",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if strings.Join(m.names, ",") != "home,above_silvia" {
					t.Errorf("unexpected targets %v", m.names)
				}
			},
		},
		{
			name:           "HTTP",
			args:           []string{"--http", "--http-port", "9000"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if !m.opts.HttpMode || m.opts.HttpPort != 9000 {
					t.Errorf("expected http on 9000, got %v %d", m.opts.HttpMode, m.opts.HttpPort)
				}
			},
		},
		{
			name:           "MQTT",
			args:           []string{"--mqtt"},
			expectedCalled: "RunService",
		},
		{
			name:           "CheckWinsOverService",
			args:           []string{"--http", "--check"},
			expectedCalled: "RunCheck",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(tt.args, &out, app); err != nil {
				t.Fatalf("run returned error: %v", err)
			}
			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called, got %v", tt.expectedCalled, app.called)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one run method, got %v", app.called)
			}
			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app)
			}
		})
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run(nil, &out, app); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(app.called) != 0 {
		t.Errorf("expected no run method, got %v", app.called)
	}
	if app.opts.ConfigFile != "config.yaml" {
		t.Errorf("expected default config.yaml, got %s", app.opts.ConfigFile)
	}
	if !strings.Contains(out.String(), "refframe version: ") {
		t.Errorf("expected version line, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Use --check") {
		t.Errorf("expected usage hints, got %q", out.String())
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--version", "--check"}, &out, app); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(app.called) != 0 {
		t.Errorf("--version must not dispatch, got %v", app.called)
	}
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, newMockApp())
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of refframe") {
		t.Errorf("expected usage output, got %q", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--render"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

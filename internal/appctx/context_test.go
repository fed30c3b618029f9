package appctx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/campusconnect/campus-cli/internal/config"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
)

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	t.Setenv("CAMPUS_DEBUG", "")
	if cfg == nil {
		cfg = config.Default()
		cfg.BaseURL = config.WebBaseURL
	}
	return NewApp(cfg, store.NewMemory())
}

func TestNewApp(t *testing.T) {
	app := newTestApp(t, nil)

	if app.Gateway == nil {
		t.Fatal("Gateway not initialized")
	}
	if app.Gateway.BaseURL() != config.WebBaseURL {
		t.Errorf("Gateway base URL = %q, want %q", app.Gateway.BaseURL(), config.WebBaseURL)
	}
	if app.Output == nil {
		t.Error("Output writer not initialized")
	}
	if app.Collector == nil || app.Hooks == nil {
		t.Error("Observability not initialized")
	}
	if app.Hooks.Level() != 0 {
		t.Errorf("initial hooks level = %d, want 0", app.Hooks.Level())
	}
}

func TestWithAppAndFromContext(t *testing.T) {
	app := newTestApp(t, nil)
	ctx := WithApp(context.Background(), app)

	if FromContext(ctx) != app {
		t.Error("FromContext did not retrieve the same app")
	}
	if FromContext(context.Background()) != nil {
		t.Error("expected nil from empty context")
	}
}

func TestApplyFlagsFormat(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		setFlag func(*GlobalFlags)
		want    output.Format
	}{
		{"default", "auto", func(*GlobalFlags) {}, output.FormatAuto},
		{"config json", "json", func(*GlobalFlags) {}, output.FormatJSON},
		{"config quiet", "quiet", func(*GlobalFlags) {}, output.FormatQuiet},
		{"json flag", "auto", func(f *GlobalFlags) { f.JSON = true }, output.FormatJSON},
		{"quiet beats json", "auto", func(f *GlobalFlags) { f.JSON = true; f.Quiet = true }, output.FormatQuiet},
		{"styled flag", "json", func(f *GlobalFlags) { f.Styled = true }, output.FormatStyled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Format = tt.config
			app := newTestApp(t, cfg)
			tt.setFlag(&app.Flags)

			app.ApplyFlags()
			if got := app.Output.Format(); got != tt.want {
				t.Errorf("format = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyFlagsConfigDefaults(t *testing.T) {
	stats := true
	verbose := 1
	cfg := config.Default()
	cfg.Stats = &stats
	cfg.Verbose = &verbose
	app := newTestApp(t, cfg)
	app.stderr = &bytes.Buffer{}

	app.ApplyFlags()
	if !app.Flags.Stats {
		t.Error("stats from config not applied")
	}
	if app.Hooks.Level() != 1 {
		t.Errorf("hooks level = %d, want 1", app.Hooks.Level())
	}
}

func TestApplyFlagsVerboseRebuildsGateway(t *testing.T) {
	app := newTestApp(t, nil)
	var stderr bytes.Buffer
	app.stderr = &stderr
	before := app.Gateway
	app.Flags.Verbose = 2

	app.ApplyFlags()
	if app.Gateway == before {
		t.Error("gateway should be rebuilt with the debug logger")
	}
	app.Logger.Debug("probe")
	if !strings.Contains(stderr.String(), "probe") {
		t.Errorf("debug logger not writing to stderr: %q", stderr.String())
	}
}

func TestApplyFlagsDebugEnv(t *testing.T) {
	app := newTestApp(t, nil)
	app.stderr = &bytes.Buffer{}
	t.Setenv("CAMPUS_DEBUG", "true")

	app.ApplyFlags()
	if app.Hooks.Level() != 2 {
		t.Errorf("hooks level = %d, want 2", app.Hooks.Level())
	}
}

func TestDebugLevel(t *testing.T) {
	tests := map[string]int{"": 0, "1": 1, "2": 2, "true": 2, "yes": 0}
	for in, want := range tests {
		if got := debugLevel(in); got != want {
			t.Errorf("debugLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestAppOKStats(t *testing.T) {
	for _, withStats := range []bool{false, true} {
		app := newTestApp(t, nil)
		var buf bytes.Buffer
		app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &buf})
		app.Flags.Stats = withStats

		if err := app.OK(map[string]string{"test": "data"}); err != nil {
			t.Fatalf("OK() failed: %v", err)
		}

		var resp map[string]any
		if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse JSON output: %v", err)
		}
		meta, _ := resp["meta"].(map[string]any)
		if hasStats := meta["stats"] != nil; hasStats != withStats {
			t.Errorf("stats presence = %v, want %v", hasStats, withStats)
		}
	}
}

func TestAppErrStatsLine(t *testing.T) {
	tests := []struct {
		name   string
		format output.Format
		want   bool
	}{
		{"json", output.FormatJSON, true},
		{"quiet", output.FormatQuiet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, nil)
			var out, stderr bytes.Buffer
			app.Output = output.New(output.Options{Format: tt.format, Writer: &out})
			app.stderr = &stderr
			app.Flags.Stats = true

			if err := app.Err(output.ErrNotFound("User")); err != nil {
				t.Fatalf("Err() failed: %v", err)
			}
			if !strings.Contains(out.String(), "User not found") {
				t.Errorf("error not written: %q", out.String())
			}
			if got := strings.Contains(stderr.String(), "Stats:"); got != tt.want {
				t.Errorf("stats line = %v, want %v (%q)", got, tt.want, stderr.String())
			}
		})
	}
}

func TestIsInteractiveMachineModes(t *testing.T) {
	for _, set := range []func(*GlobalFlags){
		func(f *GlobalFlags) { f.JSON = true },
		func(f *GlobalFlags) { f.Quiet = true },
		func(f *GlobalFlags) { f.JQ = ".data" },
	} {
		app := newTestApp(t, nil)
		set(&app.Flags)
		if app.IsInteractive() {
			t.Errorf("should not be interactive with flags %+v", app.Flags)
		}
	}
}

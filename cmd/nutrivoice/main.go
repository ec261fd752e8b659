package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
	"github.com/nutrivoice/nutrivoice/pkg/config"
	"github.com/nutrivoice/nutrivoice/pkg/logging"
	"github.com/nutrivoice/nutrivoice/pkg/observe"
	"github.com/nutrivoice/nutrivoice/pkg/session"
	"github.com/nutrivoice/nutrivoice/pkg/version"
	"github.com/nutrivoice/nutrivoice/ui"
)

func main() {
	listDevices := flag.Bool("list-devices", false, "list audio devices and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("nutrivoice", version.Full())
		return
	}

	// Best-effort .env load so GEMINI_API_KEY can live next to the binary.
	_ = godotenv.Load()

	// Default to "info"; override with NUTRIVOICE_LOG_LEVEL env var (debug, info, warn, error).
	level := "info"
	if v := os.Getenv("NUTRIVOICE_LOG_LEVEL"); v != "" {
		level = v
	}
	format := "text"
	if v := os.Getenv("NUTRIVOICE_LOG_FORMAT"); v != "" {
		format = v
	}
	_ = logging.Setup(logging.Options{
		Level:  level,
		Format: format,
		Output: os.Stdout,
	})

	if *listDevices {
		if err := printDevices(); err != nil {
			slog.Error("list devices", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version.String(),
	})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			slog.Error("shutdown telemetry", "err", err)
		}
	}()

	settings := config.LoadSettings()

	if settings.MetricsAddr != "" {
		go serveMetrics(settings.MetricsAddr)
	}

	ctrl := session.New(session.Config{
		APIKey:       config.APIKey(),
		Model:        settings.Model,
		Voice:        settings.Voice,
		Instructions: settings.Instructions,
		InputDevice:  settings.AudioInput,
		OutputDevice: settings.AudioOutput,
	}, session.WithMetrics(observe.DefaultMetrics()))

	app := ui.NewApp(ctrl, settings)
	app.Run()
}

func printDevices() error {
	audio.PreInitAudio()
	audio.WaitPreInit()

	inputs, err := audio.ListInputDevices()
	if err != nil {
		return err
	}
	outputs, err := audio.ListOutputDevices()
	if err != nil {
		return err
	}

	fmt.Println("Input devices:")
	for _, d := range inputs {
		fmt.Printf("  %s\n", d.Name)
	}
	fmt.Println("Output devices:")
	for _, d := range outputs {
		fmt.Printf("  %s\n", d.Name)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server", "err", err)
	}
}

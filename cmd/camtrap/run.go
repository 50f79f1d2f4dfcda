package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fernwatch/camtrap/internal/api"
	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/detect"
	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/output"
	"github.com/fernwatch/camtrap/internal/pipeline"
	"github.com/fernwatch/camtrap/internal/sensorboard"
)

var (
	listenAddr string
	devMode    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the filtering daemon",
	Long: `Starts the capture-to-delivery pipeline and the monitoring HTTP server.
Runs until interrupted; on shutdown the queued sequences are drained through
detection and delivery, and anything left over stays in the recovery store
for the next start.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8085", "Listen address for the monitoring API")
	runCmd.Flags().BoolVar(&devMode, "dev", false, "Use the synthetic camera and a fake detector")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}
	detector, err := buildDetector(cfg)
	if err != nil {
		return err
	}
	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	var reader sensorboard.Reader
	if !devMode {
		board, err := sensorboard.OpenBoard(cfg.GetSensorPort(), cfg.GetSensorBaud())
		if err != nil {
			monitoring.Logf("sensor board unavailable, events will have no sensor captions: %v", err)
		} else {
			defer board.Close()
			reader = board
		}
	}

	p, err := pipeline.New(cfg, pipeline.Collaborators{
		Source:       source,
		Detector:     detector,
		Sink:         sink,
		SensorReader: reader,
	})
	if err != nil {
		return err
	}

	ws := api.NewWebServer(api.WebServerConfig{
		Address:  listenAddr,
		Pipeline: p,
		Store:    p.Store(),
		Config:   cfg,
	})
	go ws.Start(ctx)

	monitoring.Logf("camtrap daemon starting (dev=%v, listen=%s)", devMode, listenAddr)
	return p.Run(ctx)
}

// buildSource wires the camera. Hardware capture feeds the pipeline through
// the library API from the capture process; the binary itself only carries
// the synthetic camera.
func buildSource(ctx context.Context, cfg *config.Config) (camera.Source, error) {
	if !devMode {
		return nil, fmt.Errorf("no camera source in this build: run with --dev for the synthetic camera")
	}
	synth := camera.NewSynth(cfg.GetFramerate(), devScript(cfg.GetFramerate()))
	go synth.Run(ctx)
	return synth, nil
}

// devScript produces alternating still and motion stretches so dev mode
// exercises sequence open/close without a real camera.
func devScript(framerate int) [][]camera.MotionVector {
	var script [][]camera.MotionVector
	// 5 s of stillness.
	for i := 0; i < 5*framerate; i++ {
		script = append(script, nil)
	}
	// 3 s of coherent motion with a little jitter.
	for i := 0; i < 3*framerate; i++ {
		field := camera.UniformField(64, 6, 2)
		for j := range field {
			field[j].X += int8(rand.Intn(3) - 1)
		}
		script = append(script, field)
	}
	return script
}

func buildDetector(cfg *config.Config) (detect.Detector, error) {
	if url := cfg.GetDetectorURL(); url != "" {
		return detect.NewHTTPDetector(url), nil
	}
	if devMode {
		return devDetector{}, nil
	}
	return nil, fmt.Errorf("detector_url is not configured")
}

// devDetector labels roughly a third of frames as animal. Dev mode only.
type devDetector struct{}

func (devDetector) Infer(ctx context.Context, image []byte) (detect.Result, error) {
	if rand.Intn(3) == 0 {
		return detect.Result{AnimalConfidence: 0.9}, nil
	}
	return detect.Result{AnimalConfidence: 0.05}, nil
}

func buildSink(cfg *config.Config) (output.Sink, error) {
	format := output.FormatStills
	if cfg.GetOutputMode() == "video" {
		format = output.FormatVideo
	}
	switch cfg.GetOutputSink() {
	case "server":
		return output.NewSender(output.SenderConfig{
			URL:     cfg.GetServerURL(),
			Timeout: 30 * time.Second,
			Format:  format,
		})
	default:
		return output.NewWriter(output.WriterConfig{
			Path:   cfg.GetOutputPath(),
			Format: format,
		})
	}
}

// Package main provides the CLI wrapper for the dart-vision pipeline.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dartvision/corepipeline/internal/config"
	"github.com/dartvision/corepipeline/pkg/calibration"
	"github.com/dartvision/corepipeline/pkg/dart"
	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/transport"
	"github.com/dartvision/corepipeline/pkg/vision"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	verbose := flag.Bool("verbose", false, "Enable verbose output")
	noMQTT := flag.Bool("no-mqtt", false, "Disable MQTT publish/subscribe (debug-only run)")
	preview := flag.Bool("preview", false, "Show debug images in a preview window")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dartpipeline - real-time dart impact triangulation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Run with default settings\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config dartpipeline.toml -preview\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("dartpipeline version %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	camIDs := cfg.CamIDs()

	if *verbose {
		log.Printf("Configuration:")
		for _, cam := range cfg.Cameras {
			log.Printf("  Camera %s: device=%d, %dx%d@%dfps", cam.ID, cam.DeviceID, cam.Width, cam.Height, cam.FPS)
		}
		log.Printf("  Background: min_initial=%d low=%.0f high=%.0f too_high=%.0f",
			cfg.Background.MinInitialImages, cfg.Background.ThreshLow, cfg.Background.ThreshHigh, cfg.Background.ThreshTooHigh)
		log.Printf("  MQTT: %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}

	record, err := calibration.LoadBlob(cfg.Calibration.BlobPath)
	if err != nil {
		log.Printf("calibration: %v, using built-in defaults", err)
		record = calibration.NewRecord()
		if cfg.Calibration.SeedYAML != "" {
			if err := record.LoadSeedYAML(cfg.Calibration.SeedYAML); err != nil {
				log.Printf("calibration: seed yaml: %v", err)
			}
		}
	}

	specs := make([]vision.CameraSpec, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		specs[i] = vision.CameraSpec{ID: cam.ID, DeviceID: cam.DeviceID, Width: cam.Width, Height: cam.Height, FPS: cam.FPS}
	}
	grabber, err := vision.NewGrabber(specs, vision.DefaultBrightnessStabilization())
	if err != nil {
		log.Fatalf("Failed to open cameras: %v", err)
	}
	defer grabber.Close()

	log.Println("Stabilizing camera exposure...")
	if err := grabber.Stabilize(); err != nil {
		log.Fatalf("Brightness stabilization failed: %v", err)
	}

	ctx := pipeline.NewPipelineContext()
	ctx.SetWorkerJoinTimeout(time.Duration(cfg.Pipeline.WorkerJoinTimeoutSeconds) * time.Second)

	writer := dart.NewMetaDataWriter(ctx, record, cfg.Calibration.BlobPath)
	bgsub := dart.NewBackgroundSubtraction(ctx, camIDs, cfg.Background.MinInitialImages,
		cfg.Background.ThreshLow, cfg.Background.ThreshHigh, cfg.Background.ThreshTooHigh)
	cleaner := dart.NewCleanDifference(ctx)
	edges := dart.NewEdgeDetection(ctx, cfg.Pipeline.EdgeLimitPX)
	fitLine := dart.NewFitLine(ctx)
	project := dart.NewProjectOnBoard(ctx, cfg.Pipeline.BoardOverlaySizePX)
	stateMachine := dart.NewStateMachine(ctx, camIDs)

	if *verbose {
		for _, m := range ctx.Modules() {
			m.OnTiming(func(s pipeline.TimingSample) {
				if s.Duration > 50*time.Millisecond || s.Depth > 8 {
					log.Printf("timing: %s.%s took %s (queue depth %d)", s.Module, s.Input, s.Duration, s.Depth)
				}
			})
		}
	}

	var client *transport.Client
	var sink *transport.ResultSink
	if !*noMQTT {
		client, err = transport.NewClient(transport.Config{
			Host: cfg.MQTT.Host, Port: cfg.MQTT.Port,
			Username: cfg.MQTT.Username, Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		})
		if err != nil {
			log.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer client.Close()
		sink = transport.NewResultSink(client)

		feed := transport.NewCalibrationFeed(client)
		configIn, _ := writer.Input("config_in")
		if err := feed.Subscribe(camIDs, func(update dart.CalibrationUpdate) {
			configIn.Deliver(update)
		}); err != nil {
			log.Printf("transport: calibration subscribe: %v", err)
		}
	}

	p := pipeline.NewPipeline(ctx)
	p.ConnectPorts = func() {
		connect := func(out *pipeline.OutputPort, mod *pipeline.Module, inName string) {
			in, ok := mod.Input(inName)
			if !ok {
				log.Fatalf("pipeline: unknown input %s.%s", mod.Name(), inName)
			}
			if err := out.Connect(in); err != nil {
				log.Fatalf("pipeline: connect %s -> %s: %v", out.Name(), in.Name(), err)
			}
		}

		connect(writer.FramesOut(), bgsub.Module, "images_in")
		connect(writer.FramesOut(), fitLine.Module, "frames_in")
		connect(bgsub.SynchedForegroundsOut(), cleaner.Module, "frames_in")
		connect(cleaner.FramesOut(), edges.Module, "frames_in")
		connect(edges.ContoursOut(), fitLine.Module, "contours_in")
		connect(fitLine.ImpactsOut(), project.Module, "impacts_in")

		// StateMachine tracks dart-progression off the same contour
		// stream as FitLine, but wants one ContourSet per camera rather
		// than FitLine's bundled ContourCollection; demux here.
		stateMachineIn, _ := stateMachine.Input("contours_in")
		demux := ctx.Register(pipeline.NewModule("contour_demux"))
		pipeline.AddInput[vision.ContourCollection](demux, "in", 16, func(cc vision.ContourCollection) error {
			for _, cs := range cc.ByCam {
				stateMachineIn.Deliver(cs)
			}
			return nil
		})
		connect(edges.ContoursOut(), demux, "in")

		// A completed dart cycle may request a background-model reset;
		// route the StateMachine's trigger into BackgroundSubtraction.
		triggerOut, _ := stateMachine.Output("background_trigger_out")
		connect(triggerOut, bgsub.Module, "set_background_trigger_in")

		if sink != nil {
			coordSink := ctx.Register(pipeline.NewModule("mqtt_coordinate_sink"))
			pipeline.AddInput[vision.BoardCoordinate](coordSink, "in", 8,
				func(c vision.BoardCoordinate) error { return sink.PublishBoardCoordinate(c) })
			connect(project.CoordinateOut(), coordSink, "in")

			debugSink := func(moduleName string, out *pipeline.OutputPort) {
				m := ctx.Register(pipeline.NewModule("mqtt_debug_" + moduleName))
				pipeline.AddInput[vision.MultiFrame](m, "in", 4, func(mf vision.MultiFrame) error {
					defer mf.Close()
					sink.PublishDebugMultiFrame(moduleName, mf)
					return nil
				})
				connect(out, m, "in")
			}
			bgDebug, _ := bgsub.Output("debug_out")
			debugSink("background_subtraction", bgDebug)
			flDebug, _ := fitLine.Output("debug_out")
			debugSink("fit_line", flDebug)
			pbDebug, _ := project.Output("debug_out")
			debugSink("board", pbDebug)
		}
	}

	var previewWin *vision.PreviewWindow
	if *preview {
		previewWin = vision.NewPreviewWindow("dartpipeline")
		defer previewWin.Close()
		ctx.SetDisplaySink(previewWin)
	}

	if code := p.Start(); code != pipeline.ExitOK {
		return int(code)
	}

	grabberStop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-ctx.StopRequested():
		}
		close(grabberStop)
	}()

	targetFPS := 30
	if len(cfg.Cameras) > 0 && cfg.Cameras[0].FPS > 0 {
		targetFPS = cfg.Cameras[0].FPS
	}

	var tickCount int64
	grabberDone := make(chan struct{})
	go func() {
		grabber.Run(targetFPS, grabberStop, func(mf vision.MultiFrame) {
			framesIn, ok := writer.Input("frames_in")
			if !ok {
				mf.Close()
				return
			}
			framesIn.Deliver(mf)
			mf.Close()
			atomic.AddInt64(&tickCount, 1)
		})
		close(grabberDone)
	}()

	if sink != nil {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-grabberStop:
					return
				case <-ticker.C:
					n := float64(atomic.SwapInt64(&tickCount, 0))
					perCam := make([]float64, len(camIDs))
					for i := range perCam {
						perCam[i] = n
					}
					if err := sink.PublishFrameRate(n, perCam, perCam); err != nil {
						log.Printf("transport: frame_rate: %v", err)
					}
				}
			}
		}()
	}

	log.Println("Pipeline started. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		ctx.RequestStop()
	}()

	code := p.Spin(pipeline.SpinOptions{Concat: vision.ConcatAxis})
	<-grabberDone
	return int(code)
}

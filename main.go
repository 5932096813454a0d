// Package main provides the entry point for the interactive calibration session.
package main

import (
	"flag"
	"image"
	"log"
	"os"
	"strings"
	"time"

	"pose-calib/internal/app"
	"pose-calib/internal/config"
	"pose-calib/internal/solver"
	"pose-calib/internal/version"
	"pose-calib/pkg/colorutil"

	"gocv.io/x/gocv"
)

const (
	appTitle = "Pose Calib"

	keyEscape = 27
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Path to JSON session configuration (defaults are used when empty)")
	device := flag.Int("camera", 0, "Video capture device ID")
	mirror := flag.Bool("mirror", false, "Mirror the displayed image horizontally")
	outDir := flag.String("out", "calibration", "Directory for the report, convergence chart and snapshots")
	watch := flag.Bool("watch", true, "Restart the session when the configuration file changes")
	flag.Parse()

	log.Printf("Starting %s %s", appTitle, version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	webcam, err := gocv.OpenVideoCapture(*device)
	if err != nil {
		log.Fatalf("Failed to open capture device %d: %v", *device, err)
	}
	defer webcam.Close()
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.ImageWidth))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.ImageHeight))

	sess, err := app.NewSession(cfg, solver.NewLM(), *outDir)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	defer sess.Close()
	sess.Mirror = *mirror

	sess.On(app.EventKeyframeCaptured, func(data interface{}) {
		ev := data.(app.CaptureEvent)
		log.Printf("Keyframe %d captured at frame %d (forced %v)", ev.Keyframes, ev.Frame, ev.Forced)
	})
	sess.On(app.EventConverged, func(interface{}) {
		log.Println("Calibration converged")
	})
	sess.On(app.EventSessionReset, func(interface{}) {
		log.Println("Session restarted")
	})

	reload := make(chan struct{}, 1)
	if *watch && *configPath != "" {
		setupConfigWatch(*configPath, reload)
	}

	window := gocv.NewWindow(appTitle)
	defer window.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	force := false
	for {
		if ok := webcam.Read(&frame); !ok {
			log.Println("Capture device closed")
			break
		}
		if frame.Empty() {
			continue
		}
		size := cfg.ImageSize()
		if frame.Cols() != size.X || frame.Rows() != size.Y {
			gocv.Resize(frame, &frame, size, 0, 0, gocv.InterpolationLinear)
		}

		if _, err := sess.ProcessFrame(&frame, force); err != nil {
			log.Printf("Frame skipped: %v", err)
		}
		force = false
		drawLines(&frame, sess.Lines())
		window.IMShow(frame)

		select {
		case <-reload:
			next, err := config.Load(*configPath)
			if err != nil {
				log.Printf("Config reload failed: %v", err)
				break
			}
			if err := sess.Restart(next); err != nil {
				log.Printf("Config reload rejected: %v", err)
				break
			}
			cfg = next
		default:
		}

		switch key := window.WaitKey(1); key {
		case ' ':
			force = true
		case 'r':
			if err := sess.Restart(cfg); err != nil {
				log.Printf("Restart failed: %v", err)
			}
		case 's':
			if path, err := sess.SaveSnapshot(frame); err != nil {
				log.Printf("Snapshot failed: %v", err)
			} else {
				log.Printf("Saved %s", path)
			}
		case 'q', keyEscape:
			finish(sess)
			return
		}
	}
	finish(sess)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupConfigWatch signals reload whenever the configuration file is rewritten.
func setupConfigWatch(path string, reload chan<- struct{}) {
	watcher := app.NewConfigWatcher(path, 2*time.Second)
	if watcher == nil {
		log.Printf("Config watch: unable to stat %s", path)
		return
	}
	log.Printf("Config watch: watching %s", watcher.Path())

	watcher.OnChange(func() {
		log.Println("Config watch: configuration changed")
		select {
		case reload <- struct{}{}:
		default:
		}
	})
	watcher.Start()
}

func drawLines(img *gocv.Mat, lines []string) {
	for i, line := range lines {
		pt := image.Pt(10, 30+i*28)
		gocv.PutText(img, line, pt, gocv.FontHersheySimplex, 0.8, colorutil.Black, 4)
		gocv.PutText(img, line, pt, gocv.FontHersheySimplex, 0.8, colorutil.White, 2)
	}
}

func finish(sess *app.Session) {
	path, err := sess.SaveResults()
	if err != nil {
		log.Printf("Failed to save results: %v", err)
		os.Exit(1)
	}
	log.Printf("Saved calibration to %s", path)
	if !sess.Guidance.Converged() {
		log.Printf("Session ended before convergence: %s", strings.ReplaceAll(sess.Guidance.UserInfo(), "\n", "; "))
	}
}

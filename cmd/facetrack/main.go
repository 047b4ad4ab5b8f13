package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/app"
	"github.com/ayusman/facetrack/internal/capture"
	"github.com/ayusman/facetrack/internal/detector"
	"github.com/ayusman/facetrack/internal/hook"
	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/server"
	"github.com/ayusman/facetrack/internal/session"
	"github.com/ayusman/facetrack/internal/store"
	"github.com/ayusman/facetrack/internal/telemetry"
	"github.com/ayusman/facetrack/internal/tracker"
	"github.com/ayusman/facetrack/internal/tray"
)

const windowName = "Frame"

type options struct {
	video          string
	camera         int
	width          int
	backend        string
	detectorKind   string
	cascade        string
	script         string
	motion         float64
	selectPolicy   string
	failureMode    string
	reacquireAfter int
	budget         time.Duration
	db             string
	listen         string
	static         string
	headless       bool
	tray           bool
	prefetch       bool
	hookCmd        string
	hookOn         string
	hookDir        string
}

func parseFlags() options {
	var o options
	def := detector.DefaultConfig()

	flag.StringVar(&o.video, "video", "", "path to a video file (default: camera)")
	flag.IntVar(&o.camera, "camera", capture.DefaultDevice, "camera index when no video is given")
	flag.IntVar(&o.width, "width", capture.DefaultWidth, "resize frames to this width, 0 keeps the native size")
	flag.StringVar(&o.backend, "tracker", string(tracker.DefaultBackend), "tracker backend: kcf, csrt, mil or template")
	flag.StringVar(&o.detectorKind, "detector", "cascade", "face detector: cascade or process")
	flag.StringVar(&o.cascade, "cascade", def.CascadePath, "Haar cascade XML file")
	flag.StringVar(&o.script, "detector-script", "scripts/detect.py", "detector script for -detector process")
	flag.Float64Var(&o.motion, "motion", 0, "only detect when more than this percent of pixels changed (0 disables)")
	flag.StringVar(&o.selectPolicy, "select", "first", "detection to track: first or largest")
	flag.StringVar(&o.failureMode, "failure-mode", string(session.FailureSticky), "on tracker loss: sticky, clear or reacquire")
	flag.IntVar(&o.reacquireAfter, "reacquire-after", session.DefaultReacquireAfter, "consecutive failures before reacquiring")
	flag.DurationVar(&o.budget, "budget", 0, "treat detect or update calls slower than this as failures (0 disables)")
	flag.StringVar(&o.db, "db", defaultDBPath(), "run history database, empty disables it")
	flag.StringVar(&o.listen, "listen", "", "serve the HTTP API on this address, e.g. :8080")
	flag.StringVar(&o.static, "static", "", "directory of static files to serve (default: search for web/)")
	flag.BoolVar(&o.headless, "headless", false, "do not open a display window")
	flag.BoolVar(&o.tray, "tray", false, "show a system tray icon (implies -headless)")
	flag.BoolVar(&o.prefetch, "prefetch", false, "read the next frame while processing the current one")
	flag.StringVar(&o.hookCmd, "hook", "", "command to run on tracking events")
	flag.StringVar(&o.hookOn, "hook-on", "", "comma-separated event kinds for -hook (default: tracker_lost)")
	flag.StringVar(&o.hookDir, "hooks", "", "directory of hook manifests to load")
	flag.Parse()

	if o.tray {
		o.headless = true
	}
	return o
}

func main() {
	fmt.Println("facetrack - single face tracking")

	o := parseFlags()
	if err := run(o); err != nil {
		log.Fatalf("facetrack: %v", err)
	}
}

func run(o options) error {
	cfg, err := sessionConfig(o)
	if err != nil {
		return err
	}

	det, err := newDetector(o)
	if err != nil {
		return err
	}

	var st *store.Store
	if o.db != "" {
		if err := os.MkdirAll(filepath.Dir(o.db), 0755); err != nil {
			det.Close()
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err = store.New(o.db)
		if err != nil {
			det.Close()
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
	}

	hookSink, err := newHookSink(o)
	if err != nil {
		det.Close()
		return err
	}

	var (
		sinks  []telemetry.Sink
		frames *server.FrameHub
		events *server.EventHub
		icon   *tray.Tray
		disp   *display
	)
	if hookSink != nil {
		sinks = append(sinks, hookSink)
	}
	if o.listen != "" {
		frames = server.NewFrameHub()
		events = server.NewEventHub()
		sinks = append(sinks, events)
	}
	if o.tray {
		icon = tray.New()
		sinks = append(sinks, icon)
	}

	srcCfg := capture.Config{VideoPath: o.video, Device: o.camera, Width: o.width}
	appCfg := app.Config{
		Source:     capture.NewVideoSource(srcCfg),
		SourceName: srcCfg.Describe(),
		Detector:   det,
		Session:    cfg,
		Store:      st,
		Sinks:      sinks,
		Prefetch:   o.prefetch,
	}
	if frames != nil {
		appCfg.Frames = frames
	}
	if !o.headless {
		disp = newDisplay()
		defer disp.Close()
		appCfg.OnFrame = disp.show
	}

	a, err := app.New(appCfg)
	if err != nil {
		det.Close()
		if hookSink != nil {
			hookSink.Close(context.Background())
		}
		return err
	}
	if disp != nil {
		disp.app = a
	}

	var srv *server.Server
	if o.listen != "" {
		srv = server.New(server.Config{
			StaticDir: staticDir(o.static),
			Store:     st,
			Session:   a,
			Frames:    frames,
			Events:    events,
		})
		go func() {
			log.Printf("Starting server on %s", o.listen)
			if err := srv.ListenAndServe(o.listen); err != nil {
				log.Printf("Server failed: %v", err)
				a.Stop()
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received %s, stopping", sig)
			a.Stop()
		case <-a.Done():
		}
	}()

	var runErr error
	if icon != nil {
		icon.OnReacquire(a.Reset)
		icon.OnQuit(a.Stop)
		if o.listen != "" {
			url := localURL(o.listen)
			icon.OnOpen(func() { openBrowser(url) })
		}
		// systray owns the main goroutine until Quit
		a.Start()
		go func() {
			<-a.Done()
			icon.Quit()
		}()
		icon.Run()
		runErr = a.Wait()
	} else {
		runErr = a.Run()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}
	if hookSink != nil {
		if err := hookSink.Close(ctx); err != nil {
			log.Printf("Hooks did not finish: %v", err)
		}
		ran, failed, dropped := hookSink.Stats()
		log.Printf("Hooks: %d ran, %d failed, %d dropped", ran, failed, dropped)
	}
	return runErr
}

func sessionConfig(o options) (session.Config, error) {
	cfg := session.DefaultConfig()

	backend, err := tracker.ParseBackend(o.backend)
	if err != nil {
		return cfg, err
	}
	mode, err := session.ParseFailureMode(o.failureMode)
	if err != nil {
		return cfg, err
	}
	sel, err := detector.ParseSelector(o.selectPolicy)
	if err != nil {
		return cfg, err
	}

	cfg.Backend = backend
	cfg.FailureMode = mode
	cfg.ReacquireAfter = o.reacquireAfter
	cfg.Selector = sel
	cfg.CallBudget = o.budget
	cfg.ClampToFrame = true
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newDetector(o options) (detector.Detector, error) {
	var (
		det detector.Detector
		err error
	)
	switch o.detectorKind {
	case "cascade":
		cfg := detector.DefaultConfig()
		cfg.CascadePath = o.cascade
		det, err = detector.NewCascadeDetector(cfg)
	case "process":
		det, err = detector.NewProcessDetector(o.script)
	default:
		return nil, fmt.Errorf("unknown detector %q", o.detectorKind)
	}
	if err != nil {
		return nil, err
	}
	if o.motion > 0 {
		det = detector.NewMotionGate(det, o.motion, detector.DefaultMaxSkip)
	}
	return det, nil
}

func newHookSink(o options) (*hook.Sink, error) {
	var hooks []*hook.Hook

	if o.hookCmd != "" {
		events, err := hook.ParseEvents(o.hookOn)
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(o.hookCmd)
		hooks = append(hooks, hook.Command(fields[0], fields[1:], events))
	}
	if o.hookDir != "" {
		m := hook.NewManager(o.hookDir)
		if err := m.Discover(); err != nil {
			return nil, fmt.Errorf("failed to load hooks: %w", err)
		}
		hooks = append(hooks, m.List()...)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	for _, h := range hooks {
		log.Printf("Hook %s on %v", h.Manifest.Name, h.Manifest.Events)
	}
	return hook.NewSink(hook.NewExecutor(hook.DefaultTimeout), hooks...), nil
}

// display shows annotated frames in a window and maps keys to session
// controls. It must be driven from the main goroutine.
type display struct {
	window *gocv.Window
	app    *app.App
}

func newDisplay() *display {
	return &display{window: gocv.NewWindow(windowName)}
}

func (d *display) show(frame *gocv.Mat, _ session.Snapshot) {
	d.window.IMShow(*frame)

	switch d.window.WaitKey(1) & 0xFF {
	case 's':
		rect := d.window.SelectROI(*frame)
		r := region.FromRect(rect)
		if !r.IsValid() {
			return
		}
		if err := d.app.RequestManualInit(r); err != nil {
			log.Printf("Manual selection rejected: %v", err)
		}
	case 'r':
		d.app.Reset()
	case 'q':
		d.app.Stop()
	}
}

func (d *display) Close() error {
	return d.window.Close()
}

func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".facetrack", "facetrack.db")
}

// staticDir returns dir when set, otherwise searches for a web directory
// in "web", "../web", "../../web" and ~/.facetrack/web.
func staticDir(dir string) string {
	if dir != "" {
		return dir
	}

	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".facetrack", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open %s: %v", url, err)
		return
	}
	go cmd.Wait()
}

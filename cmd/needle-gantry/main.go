package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"fyne.io/fyne/v2/app"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/calvinmclean/needlegantry/api"
	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"
	"github.com/calvinmclean/needlegantry/ui"
)

func main() {
	var (
		serveAddr, remoteAddr string
		x, y                  int
		verbose               bool
	)
	flag.StringVar(&serveAddr, "serve", "", "serve the cycles API on this address instead of reading commands from stdin")
	flag.StringVar(&remoteAddr, "remote", "", "run one cycle at -x,-y on a gantry served at this address")
	flag.IntVar(&x, "x", 0, "insertion x in mm for -remote")
	flag.IntVar(&y, "y", 0, "insertion y in mm for -remote")
	flag.BoolVar(&verbose, "verbose", false, "log every frame")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	var err error
	switch {
	case remoteAddr != "":
		err = runRemote(ctx, remoteAddr, protocol.Coordinate{X: x, Y: y})
	case os.Getenv("ENABLE_UI") == "true":
		runUI(ctx, level)
	default:
		err = runCLI(ctx, serveAddr, newLogger(level, zapcore.Lock(os.Stderr)))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level zapcore.Level, out zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), out, level)
	return zap.New(core).Sugar()
}

func runUI(ctx context.Context, level zapcore.Level) {
	application := app.NewWithID("com.calvinmclean.needlegantry")

	gantryUI := ui.NewGantryUI(application)
	// log to the terminal and the panel's log view
	logger := newLogger(level, zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stderr), zapcore.AddSync(gantryUI)))

	var cfg controller.Config
	configWindow := ui.NewConfigWindow(application)
	configWindow.OnSubmit = func() {
		c, err := controller.New(cfg, logger)
		if err != nil {
			logger.Errorw("error connecting to gantry", "error", err)
			application.Quit()
			return
		}
		go func() {
			<-ctx.Done()
			c.Close()
		}()

		if cfg.APIAddr != "" {
			go serve(ctx, c, cfg.APIAddr, logger)
		}

		gantryUI.Show(ctx, c, logger)
	}
	configWindow.Show(&cfg)

	go func() {
		<-ctx.Done()
		application.Quit()
	}()

	application.Run()
}

func runCLI(ctx context.Context, serveAddr string, logger *zap.SugaredLogger) error {
	cfg, err := controller.ConfigFromEnv()
	if err != nil {
		return err
	}

	c, err := controller.New(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if serveAddr == "" {
		serveAddr = cfg.APIAddr
	}

	if serveAddr != "" {
		return api.NewServer(c, logger).ListenAndServe(ctx, serveAddr)
	}

	return c.Run(ctx, os.Stdin, os.Stdout)
}

func serve(ctx context.Context, c *controller.Controller, addr string, logger *zap.SugaredLogger) {
	err := api.NewServer(c, logger).ListenAndServe(ctx, addr)
	if err != nil {
		logger.Errorw("API server stopped", "error", err)
	}
}

func runRemote(ctx context.Context, addr string, coord protocol.Coordinate) error {
	cycle, err := api.NewClient(addr).Work(ctx, coord)
	if err != nil {
		return err
	}
	fmt.Printf("cycle %s finished at %s, depth %d steps\n", cycle.GetID(), cycle.Coordinate(), cycle.Depth)
	return nil
}

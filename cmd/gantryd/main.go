// gantryd runs the gantry firmware on a Raspberry Pi, driving the steppers, sensor and
// servo through periph.io and serving the host protocol on a serial port.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"

	"github.com/calvinmclean/needlegantry/board/periph"
	"github.com/calvinmclean/needlegantry/firmware/commands"
	"github.com/calvinmclean/needlegantry/firmware/device"
	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func main() {
	var (
		port        string
		baudRate    int
		verbose     bool
		errorCheck  bool
		noInterlock bool
	)
	flag.StringVar(&port, "port", "/dev/ttyGS0", "serial port connected to the host")
	flag.IntVar(&baudRate, "baud", 115200, "serial baud rate")
	flag.BoolVar(&verbose, "verbose", false, "print every motion")
	flag.BoolVar(&errorCheck, "error-check", false, "ask the host to confirm the position before injecting")
	flag.BoolVar(&noInterlock, "no-interlock", false, "ignore the enable switch on GPIO27")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, port, baudRate, verbose, errorCheck, noInterlock, logger.Sugar())
	if err != nil {
		logger.Sugar().Fatalw("gantry stopped", "error", err)
	}
}

func run(ctx context.Context, port string, baudRate int, verbose, errorCheck, noInterlock bool, logger *zap.SugaredLogger) error {
	_, err := host.Init()
	if err != nil {
		return err
	}

	stepperCfg, err := device.DefaultStepperConfig(device.RevisionDualY)
	if err != nil {
		return err
	}
	stepperCfg.Pins = periph.Pins

	pins, err := periph.Lookup(stepperCfg.Pins)
	if err != nil {
		return err
	}
	gpio, err := periph.NewDigitalIO(pins, stepperCfg.Pins, logger.Named("gpio"))
	if err != nil {
		return err
	}

	var interlock device.Interlock = device.AlwaysEnabled{}
	if !noInterlock {
		interlock = periph.NewInterlock(gpio, stepperCfg.Pins)
	}
	if !interlock.Enabled() {
		logger.Warnw("enable switch is open, motion stays disabled until it is closed", "pin", stepperCfg.Pins.Enable)
	}

	servoPin := gpioreg.ByName(periph.ServoPin)
	if servoPin == nil {
		return errors.New("servo pin not found: " + periph.ServoPin)
	}

	conn, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return err
	}
	stream := protocol.NewConnStream(conn)
	defer stream.Close()

	calibration := device.DefaultCalibration()
	calibration.ErrorCheck = errorCheck

	d, err := device.New(stepperCfg, device.DefaultServoConfig(), calibration, device.HAL{
		IO:        gpio,
		Servo:     periph.NewServo(servoPin, logger.Named("servo")),
		Clock:     clock.New(),
		Interlock: interlock,
		Link:      stream,
	})
	if err != nil {
		return err
	}
	if verbose {
		d.Verbose()
	}

	logger.Infow("gantry ready", "port", port, "baud_rate", baudRate, "interlock", !noInterlock)

	d.Initialize()
	for {
		err := commands.Run(ctx, &d)
		switch {
		case errors.Is(err, commands.ErrReset):
			logger.Info("reset requested")
			d.Reset()
		case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

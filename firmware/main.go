//go:build tinygo && arduino_mega2560

package main

import (
	"context"
	"errors"
	"machine"

	"github.com/calvinmclean/needlegantry/firmware/board"
	"github.com/calvinmclean/needlegantry/firmware/commands"
	"github.com/calvinmclean/needlegantry/firmware/device"

	"github.com/benbjohnson/clock"
)

const baudRate = 115200

func main() {
	err := machine.Serial.Configure(machine.UARTConfig{BaudRate: baudRate})
	if err != nil {
		panic(err)
	}

	stepperCfg, err := device.DefaultStepperConfig(device.RevisionDualY)
	if err != nil {
		panic(err)
	}

	io, err := board.NewDigitalIO(board.Pins, stepperCfg.Pins)
	if err != nil {
		panic(err)
	}

	needle, err := board.NewServo(board.ServoPWM, board.ServoPin)
	if err != nil {
		panic(err)
	}

	d, err := device.New(stepperCfg, device.DefaultServoConfig(), device.DefaultCalibration(), device.HAL{
		IO:    io,
		Servo: needle,
		Clock: clock.New(),
		Link:  board.Serial{UART: machine.Serial},
	})
	if err != nil {
		panic(err)
	}

	d.Initialize()
	for {
		err := commands.Run(context.Background(), &d)
		if !errors.Is(err, commands.ErrReset) {
			println("error:", err.Error())
		}
		d.Reset()
	}
}

//go:build tinygo && arduino_mega2560

package board

import (
	"machine"

	"github.com/calvinmclean/needlegantry/firmware/device"
)

// Pins maps the header numbers used by the gantry pin tables
var Pins = map[device.Pin]machine.Pin{
	11: machine.D11,
	32: machine.D32,
	34: machine.D34,
	36: machine.D36,
	48: machine.D48,
	49: machine.D49,
	50: machine.D50,
	51: machine.D51,
	52: machine.D52,
	53: machine.D53,
}

const ServoPin = machine.D11

// ServoPWM is the 16-bit timer behind ServoPin
var ServoPWM = &machine.Timer1

package controller

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.bug.st/serial/enumerator"
)

const (
	// SerialPortNone runs the controller without a gantry attached. Commands fail with
	// ErrNotConnected.
	SerialPortNone = "None"
	// SerialPortSimulator runs the firmware in-process against simulated hardware
	SerialPortSimulator = "Simulator"

	defaultBaudRate        = "115200"
	defaultResponseTimeout = 10 * time.Second
)

var ErrNoUSBSerial = errors.New("no USB serial ports found")

// Config has the host-side connection settings
type Config struct {
	SerialPort string
	BaudRate   string
	// APIAddr is the listen address of the REST API, empty to disable it
	APIAddr string
	// ResponseTimeout is how long the gantry may stay silent while a command runs
	ResponseTimeout time.Duration
	// SurfaceDepth is the simulated surface depth in Z steps when SerialPort is
	// SerialPortSimulator
	SurfaceDepth int
}

// ConfigFromEnv reads NEEDLE_SERIAL_PORT, NEEDLE_BAUD_RATE, NEEDLE_API_ADDR and
// NEEDLE_RESPONSE_TIMEOUT. When no serial port is set, the first USB serial port is used.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		SerialPort:      os.Getenv("NEEDLE_SERIAL_PORT"),
		BaudRate:        os.Getenv("NEEDLE_BAUD_RATE"),
		APIAddr:         os.Getenv("NEEDLE_API_ADDR"),
		ResponseTimeout: defaultResponseTimeout,
	}

	if cfg.BaudRate == "" {
		cfg.BaudRate = defaultBaudRate
	}

	if timeout := os.Getenv("NEEDLE_RESPONSE_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NEEDLE_RESPONSE_TIMEOUT: %w", err)
		}
		cfg.ResponseTimeout = d
	}

	if cfg.SerialPort == "" {
		ports, err := GetSerialPorts()
		if err != nil {
			return Config{}, err
		}
		cfg.SerialPort = ports[0]
	}

	return cfg, nil
}

func (c Config) baudRate() (int, error) {
	baud, err := strconv.Atoi(c.BaudRate)
	if err != nil {
		return 0, fmt.Errorf("invalid baud rate %q: %w", c.BaudRate, err)
	}
	return baud, nil
}

// GetSerialPorts lists the names of USB serial ports
func GetSerialPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}

	var result []string
	for _, port := range ports {
		if port.IsUSB {
			result = append(result, port.Name)
		}
	}

	if len(result) == 0 {
		return nil, ErrNoUSBSerial
	}

	return result, nil
}

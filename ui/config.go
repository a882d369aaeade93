package ui

import (
	"errors"
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/calvinmclean/needlegantry/controller"
)

const defaultSurfaceDepth = 400

type ConfigWindow struct {
	app      fyne.App
	OnSubmit func()
}

func NewConfigWindow(app fyne.App) *ConfigWindow {
	return &ConfigWindow{
		app: app,
	}
}

func (cw *ConfigWindow) loadConfigFromPreferences(cfg *controller.Config) {
	prefs := cw.app.Preferences()
	cfg.SerialPort = prefs.StringWithFallback("serialPort", "")
	cfg.BaudRate = prefs.StringWithFallback("baudRate", "115200")
	cfg.APIAddr = prefs.StringWithFallback("apiAddr", "")
	cfg.SurfaceDepth = prefs.IntWithFallback("surfaceDepth", defaultSurfaceDepth)
}

func (cw *ConfigWindow) saveConfigToPreferences(cfg *controller.Config) {
	prefs := cw.app.Preferences()
	prefs.SetString("serialPort", cfg.SerialPort)
	prefs.SetString("baudRate", cfg.BaudRate)
	prefs.SetString("apiAddr", cfg.APIAddr)
	prefs.SetInt("surfaceDepth", cfg.SurfaceDepth)
}

// serialPortOptions lists USB ports followed by the simulator and no gantry at all
func serialPortOptions() ([]string, error) {
	serialPorts, err := controller.GetSerialPorts()
	if err != nil && !errors.Is(err, controller.ErrNoUSBSerial) {
		return nil, fmt.Errorf("error getting serial ports: %w", err)
	}
	return append(serialPorts, controller.SerialPortSimulator, controller.SerialPortNone), nil
}

func validConfig(cfg *controller.Config) bool {
	if cfg.SerialPort == "" {
		return false
	}
	if cfg.SerialPort == controller.SerialPortSimulator || cfg.SerialPort == controller.SerialPortNone {
		return true
	}
	_, err := strconv.Atoi(cfg.BaudRate)
	return err == nil
}

func (cw *ConfigWindow) Show(cfg *controller.Config) {
	window := cw.app.NewWindow("Needle Gantry - Configuration")
	window.Resize(fyne.NewSize(400, 250))
	window.SetCloseIntercept(func() {
		// Treat window close as cancel
		window.Close()
		cw.app.Quit()
	})
	window.Show()

	cw.loadConfigFromPreferences(cfg)

	serialPorts, err := serialPortOptions()
	if err != nil {
		showError(cw.app, window, err)
		return
	}

	serialEntry := widget.NewSelect(serialPorts, nil)
	if cfg.SerialPort == "" {
		cfg.SerialPort = serialPorts[0]
	}
	serialEntry.Bind(binding.BindString(&cfg.SerialPort))

	baudRateEntry := widget.NewEntry()
	baudRateEntry.Bind(binding.BindString(&cfg.BaudRate))

	apiAddrEntry := widget.NewEntry()
	apiAddrEntry.SetPlaceHolder("disabled")
	apiAddrEntry.Bind(binding.BindString(&cfg.APIAddr))

	surfaceDepthEntry := widget.NewEntry()
	surfaceDepthEntry.Bind(binding.IntToString(binding.BindInt(&cfg.SurfaceDepth)))

	submitButton := widget.NewButton("Submit", func() {
		cw.saveConfigToPreferences(cfg)
		cw.OnSubmit()
		window.Close()
	})
	submitButton.Disable()

	validateForm := func() {
		if validConfig(cfg) {
			submitButton.Enable()
		} else {
			submitButton.Disable()
		}
	}

	serialEntry.OnChanged = func(_ string) { validateForm() }
	baudRateEntry.OnChanged = func(_ string) { validateForm() }

	validateForm()

	form := container.NewVBox(
		widget.NewCard("Configuration", "", container.NewVBox(
			container.NewGridWithColumns(2,
				widget.NewLabel("Serial Port:"),
				serialEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("Baud Rate:"),
				baudRateEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("API Address:"),
				apiAddrEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("Simulated Depth (steps):"),
				surfaceDepthEntry,
			),
		)),
		container.NewHBox(
			widget.NewButton("Cancel", func() {
				window.Close()
				cw.app.Quit()
			}),
			submitButton,
		),
	)

	window.SetContent(form)
}

func showError(app fyne.App, window fyne.Window, err error) {
	d := dialog.NewError(err, window)
	d.SetOnClosed(func() {
		app.Quit()
	})
	d.Show()
}

package device

import (
	"fmt"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

// ProbeDepth lowers Z until the capacitive sensor trips and returns the confirmed depth
// in Z steps. Zero means the debounce did not confirm contact; the found-depth flag is
// left unset so the next forward Z move probes again.
func (d *Device) ProbeDepth() (int, error) {
	result, err := d.probe()
	if err != nil {
		return 0, err
	}
	return result.Depth, nil
}

func (d *Device) probe() (MotionResult, error) {
	if d.verbose {
		println(d.ts(), "ProbeDepth")
	}

	start := d.clock.Now()
	d.pins.SetDirection(needlegantry.Forward)

	depth := 0
	for !d.pins.SensorTriggered() {
		if !d.interlock.Enabled() {
			return MotionResult{Status: StatusDisabled, Steps: depth, Probed: true}, nil
		}
		if depth >= d.calibrationCfg.MaxProbeSteps {
			return MotionResult{Steps: depth, Probed: true}, fmt.Errorf("%w: no contact after %d probe steps", protocol.ErrTimeout, depth)
		}
		if d.calibrationCfg.ProbeTimeout > 0 && d.clock.Now().Sub(start) >= d.calibrationCfg.ProbeTimeout {
			return MotionResult{Steps: depth, Probed: true}, fmt.Errorf("%w: no contact after %s", protocol.ErrTimeout, d.calibrationCfg.ProbeTimeout)
		}

		d.pins.Pulse(needlegantry.AxisZ, d.stepperCfg.ProbeSettleDelay)
		depth++
		d.send(protocol.EncodePositionUpdate(needlegantry.AxisZ, needlegantry.Forward))
	}

	score := 0
	for range d.calibrationCfg.DebounceSamples {
		if d.pins.SensorTriggered() {
			score++
		}
	}

	if d.verbose {
		println(d.ts(), "ProbeDepth: depth", depth, "score", score)
	}

	result := MotionResult{Status: StatusCompleted, Steps: depth, Probed: true}
	if score > d.calibrationCfg.DebounceThreshold {
		d.session.FoundDepth = true
		d.session.Position.Z = depth
		result.Depth = depth
	}
	return result, nil
}

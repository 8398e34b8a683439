package hw

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

var boardModelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

// BoardModel returns the device-tree model string, e.g. "Raspberry Pi 4
// Model B Rev 1.4", or "" when the platform has no device tree.
func BoardModel() string {
	for _, p := range boardModelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if model != "" {
			return model
		}
	}
	return ""
}

func isRaspberryPi5() bool {
	return strings.Contains(BoardModel(), "Raspberry Pi 5")
}

var thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// SoCTemperature reads the SoC thermal zone in degrees Celsius. The kernel
// reports millidegrees; values of 1000 or less are taken as whole degrees.
func SoCTemperature() (float64, error) {
	b, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, fmt.Errorf("hw: read soc temperature: %w", err)
	}
	raw := strings.TrimSpace(string(b))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("hw: parse soc temperature %q: %w", raw, err)
	}
	if n > 1000 {
		return float64(n) / 1000, nil
	}
	return float64(n), nil
}

//go:build !darwin

package fclink

import (
	"strings"
)

// USB-UART bridges the radio modules ship with
var usbPortPrefixes = []string{"/dev/ttyUSB", "/dev/ttyACM", "COM"}

func portName(port string) string {
	return port
}

func filterPorts(ports []string) []string {
	var filtered []string
	for _, v := range ports {
		for _, p := range usbPortPrefixes {
			if strings.HasPrefix(v, p) {
				filtered = append(filtered, v)
				break
			}
		}
	}
	return filtered
}

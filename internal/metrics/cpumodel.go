package metrics

import (
	"bufio"
	"fmt"
	"strings"
)

const unknownModel = "Unknown"

type implementer struct {
	vendor string
	parts  map[string]string
}

// Keyed by the "CPU implementer" value of /proc/cpuinfo.
var implementers = map[string]implementer{
	"0x41": {
		vendor: "ARM",
		parts: map[string]string{
			"0xd08": "ARM Cortex-A76",
			"0xd0b": "ARM Cortex-A78",
			"0xd07": "ARM Cortex-A57",
			"0xd03": "ARM Cortex-A53",
			"0xd0c": "ARM Cortex-A65",
			"0xd40": "ARM Cortex-A78AE",
			"0xd44": "ARM Cortex-X1",
			"0xd4c": "ARM Cortex-A710",
			"0xd47": "ARM Cortex-A715",
			"0xd4e": "ARM Cortex-A720",
			"0xd4f": "ARM Cortex-X2",
			"0xd05": "ARM Cortex-A55",
			"0xd02": "ARM Cortex-A34",
		},
	},
	"0x42": {
		vendor: "Broadcom",
		parts: map[string]string{
			"0xd03": "Broadcom BCM2835 (ARM Cortex-A53)",
			"0xd07": "Broadcom BCM2836 (ARM Cortex-A53)",
			"0xd08": "Broadcom BCM2711 (ARM Cortex-A72)",
			"0xd0b": "Broadcom BCM2712 (ARM Cortex-A76)",
		},
	},
	"0x51": {
		vendor: "Qualcomm",
		parts: map[string]string{
			"0x802": "Snapdragon 8 Gen 1",
			"0x804": "Snapdragon 8 Gen 2",
			"0x805": "Snapdragon 8 Gen 3",
		},
	},
}

// ParseCPUModel extracts a human-readable CPU model from /proc/cpuinfo
// content. The first "model name" line wins; otherwise the ARM implementer
// and part ids are looked up.
func ParseCPUModel(cpuinfo string) string {
	var implID, partID string

	scanner := bufio.NewScanner(strings.NewReader(cpuinfo))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "model name":
			return value
		case "CPU implementer":
			implID = value
		case "CPU part":
			partID = value
		}
	}

	if implID == "" || partID == "" {
		return unknownModel
	}

	impl, ok := implementers[implID]
	if !ok {
		return fmt.Sprintf("ARM CPU (Implementer: %s, Part: %s)", implID, partID)
	}

	if model, ok := impl.parts[partID]; ok {
		return model
	}

	return fmt.Sprintf("%s CPU (Part: %s)", impl.vendor, partID)
}

// Package device describes the node the provisioner runs on.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// StationIDPrefix prefixes the decimal chip id in station identifiers.
const StationIDPrefix = "PluviOn_"

// HardwareInfo is the part of the radio driver Identity needs.
type HardwareInfo interface {
	ChipID() uint32
	APMACAddress() string
}

// Identity is read once when the portal starts and shown in every page
// footer.
type Identity struct {
	StationID       string
	FirmwareVersion string
	MAC             string
	ChipID          uint32
}

// StationID returns the identifier for a chip id ("PluviOn_10597059").
func StationID(chipID uint32) string {
	return StationIDPrefix + strconv.FormatUint(uint64(chipID), 10)
}

// ParseStationID extracts the chip id from a station identifier.
func ParseStationID(id string) (uint32, error) {
	rest, ok := strings.CutPrefix(id, StationIDPrefix)
	if !ok {
		return 0, fmt.Errorf("station id %q lacks %s prefix", id, StationIDPrefix)
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("station id %q: %w", id, err)
	}
	return uint32(n), nil
}

// Load builds an Identity from the hardware and the stored firmware
// version. The MAC is the soft-AP one, which is what clients of the
// portal see.
func Load(hw HardwareInfo, firmwareVersion string) Identity {
	chip := hw.ChipID()
	return Identity{
		StationID:       StationID(chip),
		FirmwareVersion: firmwareVersion,
		MAC:             hw.APMACAddress(),
		ChipID:          chip,
	}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (mac %s, firmware %s)", id.StationID, id.MAC, id.FirmwareVersion)
}

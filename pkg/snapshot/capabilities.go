/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: capabilities.go
Description: Discovered device capabilities. Accumulates what the captured forms reveal
about a device (network interfaces, PTP profile selectors, GNSS constellations) together
with its identity and per-page settle times, written as device_capabilities.json.
*/

package snapshot

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Capabilities is what one viewport run discovered about a device
type Capabilities struct {
	Device         string             `json:"device"`
	Model          string             `json:"hardware_model,omitempty"`
	Firmware       string             `json:"firmware_version,omitempty"`
	Serial         string             `json:"serial_number,omitempty"`
	Location       string             `json:"location,omitempty"`
	Interfaces     []string           `json:"interface_names"`
	PTPSupported   bool               `json:"ptp_supported"`
	PTPInterfaces  []string           `json:"ptp_interfaces"`
	PTPProfiles    []string           `json:"ptp_profiles"`
	Constellations []string           `json:"gnss_constellations"`
	PageLoadTimes  map[string]float64 `json:"page_load_times"`
	UpdatedAt      time.Time          `json:"last_updated"`
}

var (
	interfaceName  = regexp.MustCompile(`^(eth\d+)(?:_|$)`)
	profileControl = regexp.MustCompile(`^(eth\d+)_profile$`)
)

var constellations = map[string]string{
	"gps":     "GPS",
	"galileo": "Galileo",
	"glonass": "GLONASS",
	"beidou":  "BeiDou",
}

// NewCapabilities starts an empty record for device
func NewCapabilities(device string) *Capabilities {
	return &Capabilities{
		Device:         device,
		Interfaces:     []string{},
		PTPInterfaces:  []string{},
		PTPProfiles:    []string{},
		Constellations: []string{},
		PageLoadTimes:  map[string]float64{},
	}
}

// SetDeviceInfo copies the non-empty identity fields
func (c *Capabilities) SetDeviceInfo(info DeviceInfo) {
	if info.Model != "" {
		c.Model = info.Model
	}
	if info.Firmware != "" {
		c.Firmware = info.Firmware
	}
	if info.Serial != "" {
		c.Serial = info.Serial
	}
	if info.Location != "" {
		c.Location = info.Location
	}
}

// Observe scans captured forms for interface controls, PTP profile
// selectors and constellation checkboxes
func (c *Capabilities) Observe(doc *FormsDocument) {
	if doc == nil {
		return
	}
	for _, form := range doc.Forms {
		for _, ctl := range form.Controls {
			if ctl.Tag != "INPUT" && ctl.Tag != "SELECT" {
				continue
			}
			key := ctl.Name
			if key == "" {
				key = ctl.ID
			}
			if m := interfaceName.FindStringSubmatch(key); m != nil {
				c.Interfaces = appendUnique(c.Interfaces, m[1])
			}

			if ctl.Tag == "SELECT" {
				if m := profileControl.FindStringSubmatch(ctl.ID); m != nil {
					c.PTPSupported = true
					c.PTPInterfaces = appendUnique(c.PTPInterfaces, m[1])
					for _, opt := range ctl.Options {
						if opt.Text != "" {
							c.PTPProfiles = appendUnique(c.PTPProfiles, opt.Text)
						}
					}
				}
				continue
			}
			if name, ok := constellations[strings.ToLower(ctl.Name)]; ok && strings.EqualFold(ctl.Type, "checkbox") {
				c.Constellations = appendUnique(c.Constellations, name)
			}
		}
	}
}

// RecordLoadTime stores how long page took from navigation to settled, in seconds
func (c *Capabilities) RecordLoadTime(page string, d time.Duration) {
	c.PageLoadTimes[page] = math.Round(d.Seconds()*100) / 100
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}

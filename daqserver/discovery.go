package daqserver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DeviceProperties is the discovery metadata for one instrument.
type DeviceProperties struct {
	DeviceID   string   `json:"deviceid"`
	DeviceType string   `json:"devicetype"`
	Options    []string `json:"options"`
	Interface  string   `json:"interface"`
	Connected  bool     `json:"connected"`
}

// HasOption reports whether the instrument has the named option installed
// (PID, DIG, MD, MF, ...).
func (p DeviceProperties) HasOption(name string) bool {
	for _, opt := range p.Options {
		if strings.EqualFold(opt, name) {
			return true
		}
	}
	return false
}

// Devices lists the device ids known to the data server.
func (s *Session) Devices() ([]string, error) {
	raw, err := s.Do(VerbDevList)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = json.Unmarshal(raw, &ids)
	return ids, err
}

// DeviceProperties returns the discovery metadata for a device id.  An
// empty device type means the device could not be discovered.
func (s *Session) DeviceProperties(id string) (DeviceProperties, error) {
	var props DeviceProperties
	raw, err := s.Do(VerbDevProps, strings.ToLower(id))
	if err != nil {
		return props, err
	}
	err = json.Unmarshal(raw, &props)
	if err != nil {
		return props, err
	}
	if props.DeviceType == "" {
		return props, fmt.Errorf("device %s could not be discovered", id)
	}
	return props, nil
}

// ConnectDevice asks the server to establish the device link on the given
// interface ("1GbE", "USB", ...), or the discovered default when iface is
// empty.
func (s *Session) ConnectDevice(id, iface string) error {
	args := []string{strings.ToLower(id)}
	if iface != "" {
		args = append(args, iface)
	}
	_, err := s.Do(VerbConnDev, args...)
	return err
}

// RequireDevice discovers id and checks it against a device-type pattern
// (a regular expression, e.g. ".*LI|.*IA|.*IS") and a set of required
// installed options.  Requirement mismatches are reported before any device
// state is touched.
func (s *Session) RequireDevice(id, typePattern string, options ...string) (DeviceProperties, error) {
	props, err := s.DeviceProperties(id)
	if err != nil {
		return props, err
	}
	re, err := regexp.Compile(typePattern)
	if err != nil {
		return props, fmt.Errorf("bad device type pattern %q: %w", typePattern, err)
	}
	if !re.MatchString(props.DeviceType) {
		return props, fmt.Errorf("device %s has type %s, want %s", id, props.DeviceType, typePattern)
	}
	for _, opt := range options {
		if !props.HasOption(opt) {
			return props, fmt.Errorf("missing option %s for device %s", opt, id)
		}
	}
	return props, nil
}

// DefaultOutputMixerChannel returns the output mixer channel to drive for
// output 0.  The channel layout differs per instrument family.
func DefaultOutputMixerChannel(props DeviceProperties) int {
	typ := strings.ToUpper(props.DeviceType)
	switch {
	case strings.HasPrefix(typ, "HF2"):
		return 6
	case strings.HasPrefix(typ, "UHF"):
		return 3
	default:
		return 1
	}
}

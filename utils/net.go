// Package utils collects small net/byte-order helpers shared across
// the decoder and control-plane packages, grounded on the teacher's
// own utils package layout.
package utils

import (
	"fmt"
	"net"
	"strconv"
)

// MACUint64ToString formats the low 48 bits of mac as a colon-separated
// hardware address, the inverse of the packed uint64 representation
// FlowKey.MACSrc/MACDst use on the wire.
func MACUint64ToString(mac uint64) string {
	b := []byte{
		byte(mac >> 40),
		byte(mac >> 32),
		byte(mac >> 24),
		byte(mac >> 16),
		byte(mac >> 8),
		byte(mac),
	}

	return net.HardwareAddr(b).String()
}

// MACStringToUint64 parses a colon-separated hardware address into the
// packed uint64 representation used on the wire.
func MACStringToUint64(s string) (uint64, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return 0, fmt.Errorf("utils: invalid MAC %q: %w", s, err)
	}
	if len(hw) != 6 {
		return 0, fmt.Errorf("utils: unexpected MAC length %d for %q", len(hw), s)
	}

	var v uint64
	for _, b := range hw {
		v = v<<8 | uint64(b)
	}

	return v, nil
}

// FirstNonLoopbackIPv4 returns the first non-loopback IPv4 address
// found on any up interface, used to auto-detect this agent's control
// IP when one isn't configured explicitly.
func FirstNonLoopbackIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("utils: list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}

	return nil, fmt.Errorf("utils: no non-loopback IPv4 address found")
}

// FormatHostPort joins host and port into a dial/listen address via
// net.JoinHostPort.
func FormatHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

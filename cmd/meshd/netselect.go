package main

import (
	"fmt"
	"net"
	"strings"
)

// pickRadioInterface resolves the network interface the radio transport
// should join its multicast group on. spec is either a literal interface
// name or a CIDR subnet (containing "/") whose first matching interface
// is used — the same forced-name-or-subnet-match choice the teacher's
// netselect.go offered, collapsed onto a single config field since a
// radio node only ever needs one selection rule active at a time.
//
// Grounded on the teacher's netselect.go (pickInterface's by-name and
// by-CIDR branches; the "first up, non-loopback" fallback is dropped —
// an unconfigured radio transport should fail loudly rather than guess a
// NIC to broadcast cleartext-looking frames from).
func pickRadioInterface(spec string) (*net.Interface, error) {
	if strings.Contains(spec, "/") {
		return interfaceInSubnet(spec)
	}
	return net.InterfaceByName(spec)
}

func interfaceInSubnet(cidr string) (*net.Interface, error) {
	_, target, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse radio interface subnet %q: %w", cidr, err)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, _ := ifaces[i].Addrs()
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 != nil && target.Contains(ip4) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface found in subnet %s", cidr)
}

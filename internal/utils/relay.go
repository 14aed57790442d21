package utils

import (
	"net"
	"strings"
)

// CGNAT range used by Cloudflare WARP, Tailscale and carrier grade NATs.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// tunnelMarkers are interface name fragments of VPN and tunnel adapters.
var tunnelMarkers = []string{"tun", "tap", "wg", "ppp", "warp"}

// Interface is the part of a network interface the relay heuristic looks at.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.IP
}

// ShouldForceRelay reports whether this machine is likely behind a VPN or
// CGNAT, where direct media paths between participants usually fail and the
// TURN relay should be used from the start. The reason names the interface.
func ShouldForceRelay() (bool, string) {
	return relayNeeded(systemInterfaces())
}

func relayNeeded(ifaces []Interface) (bool, string) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, marker := range tunnelMarkers {
			if strings.Contains(name, marker) {
				return true, "tunnel interface " + iface.Name
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return true, "CGNAT address on " + iface.Name
			}
		}
	}
	return false, ""
}

func systemInterfaces() []Interface {
	sys, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(sys))
	for _, iface := range sys {
		entry := Interface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
			Loop: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					entry.Addrs = append(entry.Addrs, v.IP)
				case *net.IPAddr:
					entry.Addrs = append(entry.Addrs, v.IP)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}

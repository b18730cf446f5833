//go:build windows

package netiface

import "net"

// capable implements the Windows exclusion rule from
// original_source/shared-utils/src/interface.rs's ipconfig-based
// enumerate_mdns_capable_interfaces: skip the loopback pseudo-adapter and
// anything that is not an Ethernet or Wi-Fi adapter in the up state. The
// Go standard library does not expose adapter media type, so
// PointToPoint (typically VPN/tunnel adapters) is excluded as the closest
// available proxy for "non-Ethernet/Wi-Fi".
func capable(l interfaceLister) ([]Interface, error) {
	ifaces, err := l.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := l.Addrs(iface)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			out = append(out, Interface{Name: iface.Name, IPv4: v4})
			break
		}
	}
	return out, nil
}

//go:build !windows

package netiface

import "net"

// capable implements the non-Windows exclusion rule: an interface must be
// up, running, multicast- and broadcast-capable, not loopback, and carry
// at least one IPv4 address.
func capable(l interfaceLister) ([]Interface, error) {
	ifaces, err := l.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		required := net.FlagUp | net.FlagRunning | net.FlagMulticast | net.FlagBroadcast
		if iface.Flags&required != required {
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

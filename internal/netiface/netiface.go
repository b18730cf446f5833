// Package netiface enumerates network interfaces capable of carrying
// mDNS traffic (multicast and broadcast, up and running, with at least
// one IP bound) and picks a bind address for the discovery advertiser.
//
// Grounded on original_source/shared-utils/src/interface.rs
// (enumerate_mdns_capable_interfaces / get_ip_by_name), reimplemented on
// net.Interfaces rather than the Rust pnet crate — the flag-checking
// idiom (loopback skip, multicast/running check) matches the teacher's
// own use of net.FlagMulticast/net.FlagUp in its mDNS reflector
// (internal/services/mdns/service.go in the teacher repo).
package netiface

import "net"

// Interface describes one network interface judged capable of mDNS.
type Interface struct {
	Name string
	IPv4 net.IP
}

// interfaceLister is the seam platform build tags implement, so tests can
// substitute a fixed interface list without touching real hardware.
type interfaceLister interface {
	Interfaces() ([]net.Interface, error)
	Addrs(iface net.Interface) ([]net.Addr, error)
}

type realLister struct{}

func (realLister) Interfaces() ([]net.Interface, error) { return net.Interfaces() }
func (realLister) Addrs(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }

// Capable lists every interface able to multicast/broadcast with a bound
// IPv4 address, per platform-specific exclusion rules (see
// capable_other.go / capable_windows.go).
func Capable() ([]Interface, error) {
	return capable(realLister{})
}

// FirstBindIP returns the IPv4 address of the first capable interface,
// for use as the discovery advertiser's bind address when configuration
// does not specify one explicitly.
func FirstBindIP() (net.IP, error) {
	ifaces, err := Capable()
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, errNoCapableInterface
	}
	return ifaces[0].IPv4, nil
}

var errNoCapableInterface = interfaceError("no multicast/broadcast-capable interface with an IPv4 address found")

type interfaceError string

func (e interfaceError) Error() string { return string(e) }

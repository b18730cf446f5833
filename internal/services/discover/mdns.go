package discover

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"grimm.is/touchpad/internal/netiface"
)

// mdnsGroup is the IPv4 mDNS multicast group; port 5353 is the mDNS
// well-known port (RFC 6762).
var mdnsGroup = net.IPv4(224, 0, 0, 251)

const mdnsPort = 5353

// advertiser answers PTR/SRV/TXT/A queries for exactly one service
// instance: this host. Grounded on the teacher's own direct use of
// *dns.Server/*dns.Msg in internal/services/dns/service.go — this package
// builds and parses dns.Msg by hand instead of running a full dns.Server,
// since it only ever answers one fixed record set. The multicast socket
// setup (SO_REUSEADDR/SO_REUSEPORT, ipv4.PacketConn.JoinGroup) is grounded
// in the socket-setup idiom of the teacher's mDNS reflector (deleted;
// see DESIGN.md) rather than any code kept from it.
type advertiser struct {
	pconn *ipv4.PacketConn
	raw   *net.UDPConn

	serviceType  string // e.g. "_touchpad._tcp.local."
	instanceName string // e.g. "My-Host._touchpad._tcp.local."
	hostname     string // e.g. "my-host.local."
	ip           net.IP
	port         uint16
	loginPort    uint16
	backendPort  uint16
}

func newAdvertiser(serviceType, computerName string, ip net.IP, port, loginPort, backendPort uint16) (*advertiser, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", mdnsPort))
	if err != nil {
		return nil, fmt.Errorf("discover: listen mdns: %w", err)
	}
	udpConn := pc.(*net.UDPConn)
	pconn := ipv4.NewPacketConn(udpConn)

	capable, err := netiface.Capable()
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("discover: enumerate capable interfaces: %w", err)
	}
	joined := false
	for _, ci := range capable {
		iface, err := net.InterfaceByName(ci.Name)
		if err != nil {
			continue
		}
		if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: mdnsGroup}); err == nil {
			joined = true
		}
	}
	if !joined {
		udpConn.Close()
		return nil, fmt.Errorf("discover: failed to join mdns group on any capable interface")
	}
	_ = pconn.SetMulticastLoopback(true)

	return &advertiser{
		pconn:        pconn,
		raw:          udpConn,
		serviceType:  dns.Fqdn(serviceType),
		instanceName: dns.Fqdn(computerName + "." + serviceType),
		hostname:     dns.Fqdn(computerName + ".local"),
		ip:           ip,
		port:         port,
		loginPort:    loginPort,
		backendPort:  backendPort,
	}, nil
}

// serve answers incoming queries until the connection is closed.
func (a *advertiser) serve(onError func(error)) {
	buf := make([]byte, 9000)
	for {
		n, _, src, err := a.pconn.ReadFrom(buf)
		if err != nil {
			return // closed
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			continue
		}
		if !a.matchesQuery(req) {
			continue
		}
		resp := a.buildResponse(req)
		packed, err := resp.Pack()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("discover: pack mdns response: %w", err))
			}
			continue
		}
		if _, err := a.pconn.WriteTo(packed, nil, src); err != nil {
			if onError != nil {
				onError(fmt.Errorf("discover: write mdns response: %w", err))
			}
		}
	}
}

func (a *advertiser) matchesQuery(req *dns.Msg) bool {
	for _, q := range req.Question {
		if q.Name == a.serviceType || q.Name == a.instanceName || q.Name == a.hostname {
			return true
		}
	}
	return false
}

func (a *advertiser) buildResponse(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	ptr := &dns.PTR{
		Hdr: dns.RR_Header{Name: a.serviceType, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
		Ptr: a.instanceName,
	}
	srv := &dns.SRV{
		Hdr:      dns.RR_Header{Name: a.instanceName, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
		Priority: 0, Weight: 0, Port: a.port, Target: a.hostname,
	}
	txt := &dns.TXT{
		Hdr: dns.RR_Header{Name: a.instanceName, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 120},
		Txt: []string{
			fmt.Sprintf("login_port=%d", a.loginPort),
			fmt.Sprintf("backend_port=%d", a.backendPort),
		},
	}
	a4 := &dns.A{
		Hdr: dns.RR_Header{Name: a.hostname, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   a.ip.To4(),
	}

	resp.Answer = append(resp.Answer, ptr, srv, txt, a4)
	return resp
}

func (a *advertiser) close() error {
	return a.raw.Close()
}

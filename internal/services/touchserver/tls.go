package touchserver

import (
	"crypto/tls"

	"grimm.is/touchpad/internal/pki"
)

// alpnProto is the ALPN identifier clients must negotiate to open a
// transport connection. quic-go requires at least one NextProtos entry.
const alpnProto = "touchpad-transport"

// tlsConfigFromCert builds the server-side TLS config quic.ListenAddr
// needs from the certificate the pipeline orchestrator loaded via
// internal/pki. Clients pin LoadedCert.DER out-of-band (sent as
// Welcome.cert_der during admission), so this config never validates a
// client certificate chain — the pinned DER is the trust anchor.
func tlsConfigFromCert(cert *pki.LoadedCert) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert.TLS},
		NextProtos:   []string{alpnProto},
	}
}

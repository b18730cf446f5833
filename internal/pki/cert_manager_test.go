package pki

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCert(t *testing.T) {
	tmpDir := t.TempDir()
	cm := NewCertManager(tmpDir)

	// 1. First run: Should create certs
	if err := cm.EnsureCert(); err != nil {
		t.Fatalf("EnsureCert failed: %v", err)
	}

	certPath := filepath.Join(tmpDir, "cert.pem")
	keyPath := filepath.Join(tmpDir, "key.pem")

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		t.Error("cert.pem not created")
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		t.Error("key.pem not created")
	}

	// 2. Validate Certificate Content
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("Failed to parse PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	if cert.Subject.CommonName != "touchpadd-host" {
		t.Errorf("Expected CommonName 'touchpadd-host', got '%s'", cert.Subject.CommonName)
	}

	// Check SANs
	foundIP := false
	for _, ip := range cert.IPAddresses {
		if ip.String() == "169.254.255.2" {
			foundIP = true
			break
		}
	}
	if !foundIP {
		t.Error("Certificate missing IP SAN 169.254.255.2")
	}

	// 3. Second run: an existing cert must be left untouched, not rewritten.
	statBefore, err := os.Stat(certPath)
	if err != nil {
		t.Fatalf("stat before second EnsureCert: %v", err)
	}

	if err := cm.EnsureCert(); err != nil {
		t.Fatalf("EnsureCert (2nd run) failed: %v", err)
	}

	statAfter, err := os.Stat(certPath)
	if err != nil {
		t.Fatalf("stat after second EnsureCert: %v", err)
	}
	if !statBefore.ModTime().Equal(statAfter.ModTime()) {
		t.Errorf("EnsureCert rewrote an existing cert: modtime changed from %v to %v", statBefore.ModTime(), statAfter.ModTime())
	}
}

func TestLoadGeneratesWhenPathsEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	cm := NewCertManager(tmpDir)

	loaded, err := cm.Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.DER) == 0 {
		t.Error("expected non-empty DER bytes")
	}
	if len(loaded.TLS.Certificate) == 0 {
		t.Error("expected a parsed tls.Certificate")
	}
}

func TestLoadExplicitPaths(t *testing.T) {
	tmpDir := t.TempDir()
	cm := NewCertManager(tmpDir)
	if err := cm.EnsureCert(); err != nil {
		t.Fatalf("EnsureCert failed: %v", err)
	}

	loaded, err := cm.Load(filepath.Join(tmpDir, "cert.pem"), filepath.Join(tmpDir, "key.pem"))
	if err != nil {
		t.Fatalf("Load with explicit paths failed: %v", err)
	}
	if len(loaded.DER) == 0 {
		t.Error("expected non-empty DER bytes")
	}
}

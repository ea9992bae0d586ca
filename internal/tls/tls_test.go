package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCertPair generates a self-signed cert/key pair on disk.
func writeTestCertPair(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "profile-bridge-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}
	certOut.Close()

	keyFile = filepath.Join(dir, "key.pem")
	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}); err != nil {
		t.Fatalf("encode key: %v", err)
	}
	keyOut.Close()

	return certFile, keyFile
}

func TestNewServerTLSConfigDisabled(t *testing.T) {
	cfg, err := NewServerTLSConfig(ServerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Error("disabled config should be nil")
	}
}

func TestNewServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCertPair(t, t.TempDir())

	cfg, err := NewServerTLSConfig(ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("NewServerTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestNewServerTLSConfigMissingFiles(t *testing.T) {
	_, err := NewServerTLSConfig(ServerConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	if err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCertPair(t, t.TempDir())

	cfg, err := NewClientTLSConfig(ClientConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ServerName: "ingest.example.com",
	})
	if err != nil {
		t.Fatalf("NewClientTLSConfig: %v", err)
	}
	if cfg.ServerName != "ingest.example.com" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not populated from CAFile")
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("client certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestNewClientTLSConfigBadCA(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caFile, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewClientTLSConfig(ClientConfig{Enabled: true, CAFile: caFile})
	if err == nil {
		t.Error("expected error for unparsable CA file")
	}
}

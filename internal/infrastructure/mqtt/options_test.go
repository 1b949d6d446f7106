package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := config.BrokerConfig{Host: "mqtt.googleapis.com", Port: 8883, TLS: true}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}

	opts := buildClientOptions(cfg, testParams(), tlsConfig)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://mqtt.googleapis.com:8883" {
		t.Errorf("Servers = %v, want ssl://mqtt.googleapis.com:8883", opts.Servers)
	}
	if opts.ClientID != "projects/p/locations/l/registries/r/devices/d" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "unused" || opts.Password != "jwt" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.ProtocolVersion != protocolVersion311 {
		t.Errorf("ProtocolVersion = %d, want %d", opts.ProtocolVersion, protocolVersion311)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Errorf("AutoReconnect = %v, ConnectRetry = %v, want both false", opts.AutoReconnect, opts.ConnectRetry)
	}
	if opts.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", opts.ConnectTimeout)
	}
	if opts.KeepAlive != 20 {
		t.Errorf("KeepAlive = %d, want 20", opts.KeepAlive)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("TLSConfig = %+v, want TLS 1.2 minimum", opts.TLSConfig)
	}
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	opts := buildClientOptions(testBroker(), connection.Params{ClientID: "c"}, nil)

	if opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers[0] = %v, want tcp://127.0.0.1:1883", opts.Servers[0])
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want %v", opts.KeepAlive, defaultKeepAlive)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.RootCAs != nil {
		t.Error("TLSConfig set without TLS")
	}
}

func TestBrokerURL_IPv6(t *testing.T) {
	got := brokerURL(config.BrokerConfig{Host: "::1", Port: 1883})
	if got != "tcp://[::1]:1883" {
		t.Errorf("brokerURL() = %q, want tcp://[::1]:1883", got)
	}
}

func TestBuildTLSConfig(t *testing.T) {
	dir := t.TempDir()

	caPath := filepath.Join(dir, "roots.pem")
	if err := os.WriteFile(caPath, selfSignedCA(t), 0600); err != nil {
		t.Fatal(err)
	}
	junkPath := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(junkPath, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cfg      config.BrokerConfig
		wantNil  bool
		wantPool bool
		wantErr  bool
	}{
		{name: "tls disabled", cfg: config.BrokerConfig{Host: "h"}, wantNil: true},
		{name: "system roots", cfg: config.BrokerConfig{Host: "h", TLS: true}},
		{name: "custom roots", cfg: config.BrokerConfig{Host: "h", TLS: true, CAFile: caPath}, wantPool: true},
		{name: "missing file", cfg: config.BrokerConfig{Host: "h", TLS: true, CAFile: filepath.Join(dir, "none.pem")}, wantErr: true},
		{name: "no certificates", cfg: config.BrokerConfig{Host: "h", TLS: true, CAFile: junkPath}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildTLSConfig(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrTLSConfig) {
					t.Fatalf("buildTLSConfig() error = %v, want ErrTLSConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildTLSConfig() error = %v", err)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("buildTLSConfig() = %v, wantNil %v", got, tt.wantNil)
			}
			if got != nil && (got.RootCAs != nil) != tt.wantPool {
				t.Errorf("RootCAs set = %v, want %v", got.RootCAs != nil, tt.wantPool)
			}
		})
	}
}

func TestNew_BadCAFile(t *testing.T) {
	_, err := New(config.BrokerConfig{Host: "h", Port: 8883, TLS: true, CAFile: "/nonexistent/roots.pem"}, newQueuePoster())
	if !errors.Is(err, ErrTLSConfig) {
		t.Errorf("New() error = %v, want ErrTLSConfig", err)
	}
}

// selfSignedCA returns a PEM encoded self-signed CA certificate.
func selfSignedCA(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 20 * time.Second

	// protocolVersion311 selects MQTT 3.1.1, the only version the bridge speaks.
	protocolVersion311 = 4

	// subackFailure is the SUBACK return code for a rejected subscription.
	subackFailure = 0x80

	// maxPayloadSize bounds outgoing payloads (256KB, the bridge limit).
	maxPayloadSize = 256 << 10

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials from the attempt parameters
//   - MQTT 3.1.1 with a clean session
//   - No automatic reconnect or connect retry
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.BrokerConfig, params connection.Params, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))

	// Client identification
	opts.SetClientID(params.ClientID)
	opts.SetUsername(params.Username)
	opts.SetPassword(params.Password)

	opts.SetProtocolVersion(protocolVersion311)
	opts.SetCleanSession(true)

	// Reconnects are driven by connection.Manager with a fresh credential.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	connectTimeout := params.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := params.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// brokerURL returns the paho broker URL for cfg.
func brokerURL(cfg config.BrokerConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// buildTLSConfig returns nil when TLS is disabled. With an empty CAFile the
// system roots are used.
func buildTLSConfig(cfg config.BrokerConfig) (*tls.Config, error) {
	if !cfg.TLS {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.Host,
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

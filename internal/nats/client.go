package nats

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/remediator/internal/config"
	"github.com/stone-age-io/remediator/internal/errors"
	"go.uber.org/zap"
)

// Client is a short-lived NATS connection used to publish remediation outcomes
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
	config *config.NATSConfig
}

// Subject returns the outcome subject for a device and action:
// <prefix>.<device_id>.remediation.<action>
func Subject(prefix, deviceID, action string) string {
	return fmt.Sprintf("%s.%s.remediation.%s", prefix, deviceID, action)
}

// NewClient connects to NATS. timeout bounds the initial connection; the
// process is short-lived, so a lost connection is not re-established.
func NewClient(cfg *config.NATSConfig, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("remediator"),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(&cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConfig))
		logger.Debug("TLS enabled for NATS connection",
			zap.Bool("client_cert", cfg.TLS.CertFile != ""),
			zap.Bool("ca_cert", cfg.TLS.CAFile != ""),
			zap.Bool("skip_verify", cfg.TLS.InsecureSkipVerify))

		if cfg.TLS.InsecureSkipVerify {
			logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used in development")
		}
	}

	// Add authentication based on config type
	switch cfg.Auth.Type {
	case "creds":
		logger.Debug("Using credentials file authentication", zap.String("file", cfg.Auth.CredsFile))
		opts = append(opts, nats.UserCredentials(cfg.Auth.CredsFile))
	case "token":
		logger.Debug("Using token authentication")
		opts = append(opts, nats.Token(cfg.Auth.Token))
	case "userpass":
		logger.Debug("Using username/password authentication", zap.String("username", cfg.Auth.Username))
		opts = append(opts, nats.UserInfo(cfg.Auth.Username, cfg.Auth.Password))
	case "none", "":
		logger.Debug("Using no authentication")
	default:
		return nil, fmt.Errorf("invalid auth type: %s", cfg.Auth.Type)
	}

	// Pass all URLs for automatic failover
	serverURLs := strings.Join(cfg.URLs, ",")
	conn, err := nats.Connect(serverURLs, opts...)
	if err != nil {
		return nil, errors.NewNetworkError("failed to connect to NATS", err)
	}

	logger.Debug("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.Bool("tls", conn.TLSRequired()))

	return &Client{
		conn:   conn,
		logger: logger,
		config: cfg,
	}, nil
}

// createTLSConfig creates a TLS configuration based on the provided settings
func createTLSConfig(cfg *config.TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	// CA certificate verifies the server
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
		logger.Debug("CA certificate loaded", zap.String("file", cfg.CAFile))
	}

	// Client certificate for mutual TLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
		logger.Debug("Client certificate loaded", zap.String("cert", cfg.CertFile))
	}

	return tlsConfig, nil
}

// Publish sends data on subject and waits until the server has received it
func (c *Client) Publish(subject string, data []byte, timeout time.Duration) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.NewNetworkError("failed to publish to "+subject, err)
	}
	if err := c.conn.FlushTimeout(timeout); err != nil {
		return errors.NewNetworkError("failed to flush publish to "+subject, err)
	}

	c.logger.Debug("Published outcome",
		zap.String("subject", subject),
		zap.Int("bytes", len(data)))
	return nil
}

// Close immediately closes the NATS connection
func (c *Client) Close() {
	c.conn.Close()
}

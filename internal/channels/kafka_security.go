package channels

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/KafClaw/clawlet/internal/config"
)

// kafkaSecurity holds the connection settings shared by reader and writer.
type kafkaSecurity struct {
	TLS  *tls.Config
	SASL sasl.Mechanism
}

func (s kafkaSecurity) describe() string {
	parts := []string{"plaintext"}
	if s.TLS != nil {
		parts[0] = "tls"
	}
	if s.SASL != nil {
		parts = append(parts, "sasl "+s.SASL.Name())
	}
	return strings.Join(parts, ", ")
}

func (s kafkaSecurity) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           s.TLS,
		SASLMechanism: s.SASL,
	}
}

func (s kafkaSecurity) transport() *kafka.Transport {
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		TLS:         s.TLS,
		SASL:        s.SASL,
	}
}

// buildKafkaSecurity turns the TLS and SASL settings into client options.
// Mechanisms are PLAIN, SCRAM-SHA-256 and SCRAM-SHA-512.
func buildKafkaSecurity(cfg config.KafkaConfig) (kafkaSecurity, error) {
	var sec kafkaSecurity
	if cfg.TLS || cfg.CAFile != "" {
		tc := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return sec, fmt.Errorf("kafka: load CA: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return sec, fmt.Errorf("kafka: no certificates in %s", cfg.CAFile)
			}
			tc.RootCAs = pool
		}
		sec.TLS = tc
	}

	mech := strings.ToUpper(strings.TrimSpace(cfg.SASLMechanism))
	if mech == "" {
		return sec, nil
	}
	if cfg.Username == "" {
		return sec, errors.New("kafka: sasl needs a username")
	}
	switch mech {
	case "PLAIN":
		sec.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		algo := scram.SHA256
		if mech == "SCRAM-SHA-512" {
			algo = scram.SHA512
		}
		m, err := scram.Mechanism(algo, cfg.Username, cfg.Password)
		if err != nil {
			return sec, fmt.Errorf("kafka: %w", err)
		}
		sec.SASL = m
	default:
		return sec, fmt.Errorf("kafka: unsupported sasl mechanism %q", cfg.SASLMechanism)
	}
	return sec, nil
}

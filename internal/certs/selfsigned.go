package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const rsaBits = 2048

// ParseSubject converts an openssl style subject ("/C=US/O=Acme/CN=host")
// into a pkix.Name. Unknown attributes are ignored.
func ParseSubject(subject string) pkix.Name {
	var name pkix.Name
	for _, part := range strings.Split(subject, "/") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			continue
		}
		switch strings.TrimSpace(key) {
		case "C":
			name.Country = append(name.Country, value)
		case "ST":
			name.Province = append(name.Province, value)
		case "L":
			name.Locality = append(name.Locality, value)
		case "O":
			name.Organization = append(name.Organization, value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, value)
		case "CN":
			name.CommonName = value
		}
	}
	return name
}

// NewSelfSigned returns the PEM encoded private key followed by a
// self-signed certificate valid for the given hosts and number of days.
func NewSelfSigned(subject pkix.Name, hosts []string, days int) ([]byte, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	if subject.CommonName == "" {
		subject.CommonName = hosts[0]
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	// must be unique to avoid errors when serial/issuer is reused with different keys
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-5 * time.Minute).UTC()
	notAfter := notBefore.AddDate(0, 0, days).UTC()

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	bundle := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})...)
	return bundle, nil
}

// WriteSelfSigned generates a key+certificate bundle and writes it to path.
// The file is written to a temporary name first so a partial bundle is
// never left behind.
func WriteSelfSigned(path string, subject pkix.Name, hosts []string, days int) error {
	bundle, err := NewSelfSigned(subject, hosts, days)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".server-*.pem")
	if err != nil {
		return fmt.Errorf("failed to create temporary certificate file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(bundle); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set certificate permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close certificate file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

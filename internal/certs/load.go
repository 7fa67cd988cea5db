package certs

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Load reads the combined key+certificate PEM file as a TLS key pair
func Load(path string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(path, path)
	if err != nil {
		return tls.Certificate{}, &LoadError{Path: path, Err: err}
	}
	return cert, nil
}

// Info summarizes the leaf certificate of a key pair
type Info struct {
	Subject    string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	DNSNames   []string
	IPs        []string
	SelfSigned bool
}

// Describe parses the leaf certificate of cert
func Describe(cert tls.Certificate) (Info, error) {
	leaf := cert.Leaf
	if leaf == nil {
		if len(cert.Certificate) == 0 {
			return Info{}, errors.New("key pair holds no certificate")
		}
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return Info{}, err
		}
	}

	info := Info{
		Subject:    leaf.Subject.String(),
		Issuer:     leaf.Issuer.String(),
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
		DNSNames:   leaf.DNSNames,
		SelfSigned: bytes.Equal(leaf.RawSubject, leaf.RawIssuer),
	}
	for _, ip := range leaf.IPAddresses {
		info.IPs = append(info.IPs, ip.String())
	}
	return info, nil
}

// Expired reports whether the certificate is outside its validity window at t
func (i Info) Expired(t time.Time) bool {
	return t.Before(i.NotBefore) || t.After(i.NotAfter)
}

// Log writes the certificate summary, warning when it is not currently valid
func (i Info) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("subject", i.Subject),
		zap.String("issuer", i.Issuer),
		zap.Time("not_before", i.NotBefore),
		zap.Time("not_after", i.NotAfter),
		zap.Strings("dns_names", i.DNSNames),
		zap.Strings("ips", i.IPs),
		zap.Bool("self_signed", i.SelfSigned),
	}
	if i.Expired(time.Now()) {
		logger.Warn("Certificate is outside its validity window", fields...)
		return
	}
	logger.Info("Certificate loaded", fields...)
}

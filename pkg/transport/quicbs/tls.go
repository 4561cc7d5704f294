// SPDX-FileCopyrightText: 2022 Markus Sommer
// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicbs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const alpn = "jingle-quic-bs"

// listenerTLSConfig creates a TLS config with a self-signed certificate. Peers are authenticated by the Jingle
// session's token, not by the certificate.
func listenerTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("generating certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("combining certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// dialerTLSConfig does not verify the listener's self-signed certificate.
func dialerTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    1 * time.Second,
		MaxIdleTimeout:     10 * time.Second,
		EnableDatagrams:    false,
		MaxIncomingStreams: 64,
	}
}

const (
	// errorNone closes a connection after a finished transfer.
	errorNone quic.ApplicationErrorCode = 0
	// errorShutdown is sent when the Method is closed.
	errorShutdown quic.ApplicationErrorCode = 5
	// errorHandshake is sent for a stream without a valid token.
	errorHandshake quic.ApplicationErrorCode = 6
)

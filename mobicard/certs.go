package mobicard

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

// parsePinnedCerts decodes every CERTIFICATE block from pemText.
func parsePinnedCerts(pemText string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(pemText)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, merry.Prependf(err, "mobicard: failed to parse certificate")
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, merry.New("mobicard: failed to decode PEM certificate")
	}
	return certs, nil
}

// makeTLSConfig keeps standard verification: pinned certs are only added to the system roots.
func makeTLSConfig(pinnedCerts []*x509.Certificate) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		return nil, merry.Prependf(err, "mobicard: failed to get system cert pool")
	}
	for _, cert := range pinnedCerts {
		rootCAs.AddCert(cert)
	}
	return &tls.Config{RootCAs: rootCAs, MinVersion: tls.VersionTLS12}, nil
}

func checkCertExpiration(cert *x509.Certificate, now time.Time) bool {
	timeUntilExpiry := cert.NotAfter.Sub(now)
	if timeUntilExpiry <= 365*24*time.Hour {
		log.Warn().
			Str("subject", cert.Subject.CommonName).
			Time("expires_at", cert.NotAfter).
			Dur("time_until_expiry", timeUntilExpiry).
			Msg("mobicard: pinned CA certificate will expire in less than a year")
		return false
	}
	return true
}

// chainsNeedPinnedCert reports whether every verified chain goes through one of the pinned certs.
func chainsNeedPinnedCert(chains [][]*x509.Certificate, pinnedCerts []*x509.Certificate) bool {
	for _, chain := range chains {
		found := false
		for _, cert := range chain {
			for _, pinned := range pinnedCerts {
				if cert.Equal(pinned) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func checkVerifiedChains(chains [][]*x509.Certificate, pinnedCerts []*x509.Certificate) {
	if len(chains) == 0 || len(pinnedCerts) == 0 {
		return
	}
	if !chainsNeedPinnedCert(chains, pinnedCerts) {
		log.Warn().
			Int("chains_count", len(chains)).
			Msg("mobicard: pinned CA certificate seems not needed: it is not required for one of chains")
	}
}

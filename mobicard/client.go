package mobicard

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"time"

	"biin_lookup/utils"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

const DefaultEndpoint = "https://mobicardsystems.com/api/v1/biin_lookup"
const DefaultTimeout = 30 * time.Second

// Client performs BIIN lookups. Exported fields are read by Init;
// after Init the client is read-only and may be shared between goroutines.
type Client struct {
	Credentials Credentials
	// Session is generated by Init when zero.
	Session  Session
	Endpoint string
	Timeout  time.Duration
	// ExtraRootCAsPEM is added to the system roots, verification stays on.
	ExtraRootCAsPEM string
	// HTTPClient replaces the client built by Init.
	HTTPClient *http.Client

	pinnedCerts []*x509.Certificate
	httpClient  *http.Client
}

func (c *Client) Init() error {
	if err := c.Credentials.Validate(); err != nil {
		return err
	}
	if c.Session == (Session{}) {
		c.Session = NewSession()
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.ExtraRootCAsPEM != "" {
		certs, err := parsePinnedCerts(c.ExtraRootCAsPEM)
		if err != nil {
			return err
		}
		for _, cert := range certs {
			checkCertExpiration(cert, time.Now())
		}
		c.pinnedCerts = certs
	}

	if c.HTTPClient != nil {
		c.httpClient = c.HTTPClient
		return nil
	}
	tlsConfig, err := makeTLSConfig(c.pinnedCerts)
	if err != nil {
		return err
	}
	c.httpClient = &http.Client{
		Timeout:   c.Timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
	}
	return nil
}

// Lookup never returns an error: every failure is reported
// as a LookupResult with Status == StatusError.
func (c *Client) Lookup(ctx context.Context, cardInput string) LookupResult {
	if c.httpClient == nil {
		return errorResult(merry.New("mobicard: client is not initialized"))
	}

	token, err := BuildToken(c.Credentials, c.Session, cardInput)
	if err != nil {
		return errorResult(err)
	}

	buf, err := c.post(ctx, token)
	if err != nil {
		return errorResult(err)
	}

	res := resultFromResponse(buf)
	log.Debug().
		Str("url", c.Endpoint).
		Str("card_biin", cardBiinForLog(cardInput)).
		Str("status", res.Status).Str("status_code", res.StatusCode).
		Msg("mobicard: lookup")
	return res
}

func (c *Client) post(ctx context.Context, token string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"mobicard_auth_jwt": token})
	if err != nil {
		return nil, merry.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, merry.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, buf, err := utils.GetHTTPBody(c.httpClient, req)
	if err != nil {
		return nil, err
	}

	if resp.TLS != nil {
		checkVerifiedChains(resp.TLS.VerifiedChains, c.pinnedCerts)
	}

	log.Debug().
		Int("code", resp.StatusCode).Str("status", resp.Status).
		Str("url", c.Endpoint).Int("length", len(buf)).
		Msg("mobicard: response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrUnexpectedHttpStatus.Here().Append(resp.Status).Append(string(buf))
	}
	return buf, nil
}

func cardBiinForLog(cardInput string) string {
	biin, err := CardBiin(cardInput)
	if err != nil {
		return ""
	}
	return biin
}

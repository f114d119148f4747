package mobicard

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"strconv"

	"github.com/ansel1/merry"
)

const (
	protocolVersion = "2.0"
	protocolMode    = "LIVE"
	serviceID       = "20000"
	serviceType     = "BIINLOOKUP"

	sessionIDMin = 1_000_000
	sessionIDMax = 1_000_000_000
)

type Credentials struct {
	MerchantID string `json:"merchant_id"`
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
}

func (c Credentials) Validate() error {
	if c.MerchantID == "" {
		return merry.New("mobicard: merchant id is required")
	}
	if c.APIKey == "" {
		return merry.New("mobicard: API key is required")
	}
	if c.SecretKey == "" {
		return merry.New("mobicard: secret key is required")
	}
	return nil
}

// Session holds identifiers sent with every token of one client.
type Session struct {
	TokenID      int64
	TxnReference int64
}

func NewSession() Session {
	return Session{TokenID: randomSessionID(), TxnReference: randomSessionID()}
}

func randomSessionID() int64 {
	return sessionIDMin + rand.Int63n(sessionIDMax-sessionIDMin+1)
}

type tokenHeader struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
}

// Field order is part of the signed bytes, do not reorder.
type tokenPayload struct {
	Version      string `json:"mobicard_version"`
	Mode         string `json:"mobicard_mode"`
	MerchantID   string `json:"mobicard_merchant_id"`
	APIKey       string `json:"mobicard_api_key"`
	ServiceID    string `json:"mobicard_service_id"`
	ServiceType  string `json:"mobicard_service_type"`
	TokenID      string `json:"mobicard_token_id"`
	TxnReference string `json:"mobicard_txn_reference"`
	CardBiin     string `json:"mobicard_card_biin"`
}

// CardBiin returns the 8-digit BIIN (or 6-digit BIN for shorter inputs)
// taken from the beginning of a card number.
func CardBiin(cardInput string) (string, error) {
	var biin string
	switch {
	case len(cardInput) >= 8:
		biin = cardInput[:8]
	case len(cardInput) >= 6:
		biin = cardInput[:6]
	default:
		return "", ErrInvalidInput.Here().WithMessage("invalid card input - must be at least 6 digits")
	}
	for i := 0; i < len(biin); i++ {
		if biin[i] < '0' || biin[i] > '9' {
			return "", ErrInvalidInput.Here().WithMessagef("invalid card input - non-digit character at position %d", i+1)
		}
	}
	return biin, nil
}

func BuildToken(creds Credentials, session Session, cardInput string) (string, error) {
	biin, err := CardBiin(cardInput)
	if err != nil {
		return "", err
	}

	header, err := encodeSegment(tokenHeader{Typ: "JWT", Alg: "HS256"})
	if err != nil {
		return "", merry.Wrap(err)
	}
	payload, err := encodeSegment(tokenPayload{
		Version:      protocolVersion,
		Mode:         protocolMode,
		MerchantID:   creds.MerchantID,
		APIKey:       creds.APIKey,
		ServiceID:    serviceID,
		ServiceType:  serviceType,
		TokenID:      strconv.FormatInt(session.TokenID, 10),
		TxnReference: strconv.FormatInt(session.TxnReference, 10),
		CardBiin:     biin,
	})
	if err != nil {
		return "", merry.Wrap(err)
	}

	signingInput := header + "." + payload
	return signingInput + "." + Sign(signingInput, creds.SecretKey), nil
}

// Sign returns base64url(HMAC-SHA256(secretKey, signingInput)) without padding.
func Sign(signingInput, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(signingInput))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// encodeSegment marshals obj to compact JSON without HTML escaping
// (same bytes as JSON.stringify) and encodes it as unpadded base64url.
func encodeSegment(obj any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", merry.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

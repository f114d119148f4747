package mobicard

import (
	"bytes"
	"encoding/json"

	"github.com/ansel1/merry"
)

var ErrInvalidInput = merry.New("invalid card input")
var ErrRemote = merry.New("remote error")
var ErrUnexpectedHttpStatus = merry.New("unexpected HTTP status")
var ErrResponseDataMalformed = merry.New("response data malformed")

const StatusSuccess = "SUCCESS"
const StatusError = "ERROR"

type ErrorKind string

const (
	ErrorKindInvalidInput ErrorKind = "INVALID_INPUT"
	ErrorKindRemote       ErrorKind = "REMOTE_ERROR"
)

// LookupResult is either a SUCCESS with card information
// or an ERROR with service status fields or an error message.
type LookupResult struct {
	Status string `json:"status"`

	CardScheme  string          `json:"cardScheme,omitempty"`
	IssuerBank  string          `json:"issuerBank,omitempty"`
	CardType    string          `json:"cardType,omitempty"`
	Country     string          `json:"country,omitempty"`
	IsPrepaid   string          `json:"isPrepaid,omitempty"`
	RawResponse json.RawMessage `json:"rawResponse,omitempty"`

	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	StatusCode    string    `json:"statusCode,omitempty"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Err           error     `json:"-"`
}

func (r LookupResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Message returns the most specific description of a failed lookup.
func (r LookupResult) Message() string {
	if r.StatusMessage != "" {
		return r.StatusMessage
	}
	return r.ErrorMessage
}

func errorResult(err error) LookupResult {
	kind := ErrorKindRemote
	if merry.Is(err, ErrInvalidInput) {
		kind = ErrorKindInvalidInput
	}
	return LookupResult{Status: StatusError, ErrorKind: kind, ErrorMessage: err.Error(), Err: err}
}

// textValue accepts both JSON strings and scalars (numbers, booleans)
// and keeps their text form; null stays empty.
type textValue string

func (v *textValue) UnmarshalJSON(buf []byte) error {
	buf = bytes.TrimSpace(buf)
	if bytes.Equal(buf, []byte("null")) {
		*v = ""
		return nil
	}
	if len(buf) > 0 && buf[0] == '"' {
		var s string
		if err := json.Unmarshal(buf, &s); err != nil {
			return merry.Wrap(err)
		}
		*v = textValue(s)
		return nil
	}
	if len(buf) > 0 && (buf[0] == '{' || buf[0] == '[') {
		return merry.Errorf("mobicard: expected scalar value, got %s", string(buf))
	}
	*v = textValue(buf)
	return nil
}

type biinInformation struct {
	Scheme      textValue `json:"card_biin_scheme"`
	BankName    textValue `json:"card_biin_bank_name"`
	Type        textValue `json:"card_biin_type"`
	CountryName textValue `json:"card_biin_country_name"`
	Prepaid     textValue `json:"card_biin_prepaid"`
}

type lookupResponse struct {
	Status          textValue        `json:"status"`
	StatusCode      textValue        `json:"status_code"`
	StatusMessage   textValue        `json:"status_message"`
	BiinInformation *biinInformation `json:"card_biin_information"`
}

func resultFromResponse(buf []byte) LookupResult {
	var resp lookupResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return errorResult(ErrResponseDataMalformed.Here().Append(err.Error()))
	}

	if resp.Status != StatusSuccess {
		return LookupResult{
			Status:        StatusError,
			ErrorKind:     ErrorKindRemote,
			StatusCode:    string(resp.StatusCode),
			StatusMessage: string(resp.StatusMessage),
			Err: ErrRemote.Here().
				WithMessagef("mobicard: lookup failed: status=%q code=%q message=%q",
					resp.Status, resp.StatusCode, resp.StatusMessage),
		}
	}

	info := resp.BiinInformation
	if info == nil {
		return errorResult(ErrResponseDataMalformed.Here().Append("card_biin_information is missing"))
	}
	return LookupResult{
		Status:      StatusSuccess,
		CardScheme:  string(info.Scheme),
		IssuerBank:  string(info.BankName),
		CardType:    string(info.Type),
		Country:     string(info.CountryName),
		IsPrepaid:   string(info.Prepaid),
		RawResponse: json.RawMessage(buf),
	}
}

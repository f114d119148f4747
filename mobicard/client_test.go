package mobicard

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ansel1/merry"
)

const successBody = `{"status":"SUCCESS","card_biin_information":{"card_biin_scheme":"VISA","card_biin_bank_name":"Test Bank","card_biin_type":"DEBIT","card_biin_country_name":"Nigeria","card_biin_prepaid":"No"}}`

type fakeService struct {
	srv    *httptest.Server
	hits   atomic.Int32
	tokens chan string
}

func newFakeService(t *testing.T, tls bool, status int, body string) *fakeService {
	t.Helper()
	fs := &fakeService{tokens: make(chan string, 10)}
	handler := http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if r.Method != "POST" || r.URL.Path != "/api/v1/biin_lookup" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %v, want application/json", ct)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body decode error = %v", err)
		}
		fs.tokens <- req["mobicard_auth_jwt"]
		wr.Header().Set("Content-Type", "application/json")
		wr.WriteHeader(status)
		fmt.Fprint(wr, body)
	})
	if tls {
		fs.srv = httptest.NewTLSServer(handler)
	} else {
		fs.srv = httptest.NewServer(handler)
	}
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeService) endpoint() string {
	return fs.srv.URL + "/api/v1/biin_lookup"
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c := &Client{Credentials: testCreds, Session: testSession, Endpoint: endpoint}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c
}

func TestLookupSuccess(t *testing.T) {
	fs := newFakeService(t, false, 200, successBody)
	c := newTestClient(t, fs.endpoint())

	res := c.Lookup(context.Background(), "517335")
	if !res.IsSuccess() {
		t.Fatalf("Lookup() = %+v, want SUCCESS", res)
	}
	want := LookupResult{
		Status:      StatusSuccess,
		CardScheme:  "VISA",
		IssuerBank:  "Test Bank",
		CardType:    "DEBIT",
		Country:     "Nigeria",
		IsPrepaid:   "No",
		RawResponse: json.RawMessage(successBody),
	}
	if res.CardScheme != want.CardScheme || res.IssuerBank != want.IssuerBank ||
		res.CardType != want.CardType || res.Country != want.Country || res.IsPrepaid != want.IsPrepaid {
		t.Errorf("Lookup() =\n  %+v\nwant:\n  %+v", res, want)
	}
	if string(res.RawResponse) != successBody {
		t.Errorf("RawResponse = %s", res.RawResponse)
	}

	token := <-fs.tokens
	parts := strings.Split(token, ".")
	if len(parts) != 3 || Sign(parts[0]+"."+parts[1], testCreds.SecretKey) != parts[2] {
		t.Errorf("token signature mismatch: %s", token)
	}
	if biin := decodePayload(t, token)["mobicard_card_biin"]; biin != "517335" {
		t.Errorf("mobicard_card_biin = %v, want 517335", biin)
	}
}

func TestLookupReusesSession(t *testing.T) {
	fs := newFakeService(t, false, 200, successBody)
	c := &Client{Credentials: testCreds, Endpoint: fs.endpoint()}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	c.Lookup(context.Background(), "51733500")
	c.Lookup(context.Background(), "41111111")
	p1 := decodePayload(t, <-fs.tokens)
	p2 := decodePayload(t, <-fs.tokens)
	if p1["mobicard_token_id"] != p2["mobicard_token_id"] || p1["mobicard_txn_reference"] != p2["mobicard_txn_reference"] {
		t.Errorf("session ids differ between lookups: %v %v", p1, p2)
	}
	if p1["mobicard_token_id"] != fmt.Sprint(c.Session.TokenID) {
		t.Errorf("mobicard_token_id = %v, want %d", p1["mobicard_token_id"], c.Session.TokenID)
	}
}

func TestLookupServiceError(t *testing.T) {
	tests := []struct {
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			body:        `{"status":"FAILED","status_code":"01","status_message":"Invalid merchant"}`,
			wantCode:    "01",
			wantMessage: "Invalid merchant",
		},
		{
			body:        `{"status":"FAILED","status_code":401,"status_message":"Invalid token"}`,
			wantCode:    "401",
			wantMessage: "Invalid token",
		},
		{
			body:        `{"status":"FAILED"}`,
			wantCode:    "",
			wantMessage: "",
		},
		{
			body:        `{}`,
			wantCode:    "",
			wantMessage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			fs := newFakeService(t, false, 200, tt.body)
			c := newTestClient(t, fs.endpoint())

			res := c.Lookup(context.Background(), "517335")
			if res.Status != StatusError || res.ErrorKind != ErrorKindRemote {
				t.Fatalf("Lookup() = %+v, want remote ERROR", res)
			}
			if res.StatusCode != tt.wantCode || res.StatusMessage != tt.wantMessage {
				t.Errorf("Lookup() code/message = %q/%q, want %q/%q",
					res.StatusCode, res.StatusMessage, tt.wantCode, tt.wantMessage)
			}
			if !merry.Is(res.Err, ErrRemote) {
				t.Errorf("Err = %v, want ErrRemote", res.Err)
			}
			if res.RawResponse != nil {
				t.Errorf("RawResponse should be empty for errors")
			}
		})
	}
}

func TestLookupInvalidInputSkipsNetwork(t *testing.T) {
	fs := newFakeService(t, false, 200, successBody)
	c := newTestClient(t, fs.endpoint())

	for _, input := range []string{"", "5", "51733"} {
		res := c.Lookup(context.Background(), input)
		if res.Status != StatusError || res.ErrorKind != ErrorKindInvalidInput {
			t.Errorf("Lookup(%q) = %+v, want INVALID_INPUT error", input, res)
		}
		if res.ErrorMessage == "" {
			t.Errorf("Lookup(%q) ErrorMessage is empty", input)
		}
	}
	if hits := fs.hits.Load(); hits != 0 {
		t.Errorf("service was called %d times, want 0", hits)
	}
}

func TestLookupTransportErrors(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		fs := newFakeService(t, false, 200, successBody)
		endpoint := fs.endpoint()
		fs.srv.Close()

		res := newTestClient(t, endpoint).Lookup(context.Background(), "517335")
		if res.Status != StatusError || res.ErrorKind != ErrorKindRemote || res.ErrorMessage == "" {
			t.Errorf("Lookup() = %+v, want remote ERROR with message", res)
		}
	})

	t.Run("non-JSON body", func(t *testing.T) {
		fs := newFakeService(t, false, 200, "<html>maintenance</html>")
		res := newTestClient(t, fs.endpoint()).Lookup(context.Background(), "517335")
		if !merry.Is(res.Err, ErrResponseDataMalformed) || res.ErrorMessage == "" {
			t.Errorf("Lookup() = %+v, want ErrResponseDataMalformed", res)
		}
	})

	t.Run("HTTP status", func(t *testing.T) {
		fs := newFakeService(t, false, 502, "bad gateway")
		res := newTestClient(t, fs.endpoint()).Lookup(context.Background(), "517335")
		if !merry.Is(res.Err, ErrUnexpectedHttpStatus) || !strings.Contains(res.ErrorMessage, "502") {
			t.Errorf("Lookup() = %+v, want ErrUnexpectedHttpStatus", res)
		}
	})

	t.Run("SUCCESS without information", func(t *testing.T) {
		fs := newFakeService(t, false, 200, `{"status":"SUCCESS"}`)
		res := newTestClient(t, fs.endpoint()).Lookup(context.Background(), "517335")
		if !merry.Is(res.Err, ErrResponseDataMalformed) {
			t.Errorf("Lookup() = %+v, want ErrResponseDataMalformed", res)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		fs := newFakeService(t, false, 200, successBody)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := newTestClient(t, fs.endpoint()).Lookup(ctx, "517335")
		if res.Status != StatusError || !strings.Contains(res.ErrorMessage, "context canceled") {
			t.Errorf("Lookup() = %+v, want context canceled error", res)
		}
	})
}

func TestLookupNotInitialized(t *testing.T) {
	c := &Client{Credentials: testCreds}
	res := c.Lookup(context.Background(), "517335")
	if res.Status != StatusError || res.ErrorMessage == "" {
		t.Errorf("Lookup() = %+v, want ERROR", res)
	}
}

func TestInitErrors(t *testing.T) {
	c := &Client{Credentials: Credentials{MerchantID: "4"}}
	if err := c.Init(); err == nil {
		t.Errorf("Init() with partial credentials expected error")
	}
	c = &Client{Credentials: testCreds, ExtraRootCAsPEM: "not a certificate"}
	if err := c.Init(); err == nil {
		t.Errorf("Init() with broken PEM expected error")
	}
}

func TestInitDefaults(t *testing.T) {
	c := &Client{Credentials: testCreds}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if c.Endpoint != DefaultEndpoint || c.Timeout != DefaultTimeout {
		t.Errorf("defaults = %v %v", c.Endpoint, c.Timeout)
	}
	if c.Session.TokenID == 0 || c.Session.TxnReference == 0 {
		t.Errorf("session was not generated: %+v", c.Session)
	}
}

func TestLookupTLSVerification(t *testing.T) {
	fs := newFakeService(t, true, 200, successBody)

	res := newTestClient(t, fs.endpoint()).Lookup(context.Background(), "517335")
	if res.Status != StatusError || !strings.Contains(res.ErrorMessage, "certificate") {
		t.Errorf("Lookup() against untrusted cert = %+v, want certificate error", res)
	}

	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: fs.srv.Certificate().Raw}))
	c := &Client{Credentials: testCreds, Session: testSession, Endpoint: fs.endpoint(), ExtraRootCAsPEM: certPEM}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	res = c.Lookup(context.Background(), "517335")
	if !res.IsSuccess() || res.CardScheme != "VISA" {
		t.Errorf("Lookup() with pinned cert = %+v, want SUCCESS", res)
	}
}

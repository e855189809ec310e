package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/config"
)

func testClient(baseURL string) *PhonePeClient {
	logger := zerolog.Nop()
	return NewPhonePeClient(config.PhonePeConfig{
		MerchantID:  "MERCHANTUAT",
		SaltKey:     "salt-key",
		SaltIndex:   "1",
		BaseURL:     baseURL,
		RedirectURL: "https://resortwala.test/payment/return",
		CallbackURL: "https://resortwala.test/api/v1/payments/phonepe/callback",
	}, &logger)
}

func TestMerchantTransactionID(t *testing.T) {
	now := time.Unix(1717200000, 0)
	id := MerchantTransactionID(42, now)
	assert.Equal(t, "TXN_42_1717200000", id)

	bookingID, ok := BookingIDFromTransaction(id)
	assert.True(t, ok)
	assert.Equal(t, int64(42), bookingID)

	for _, bad := range []string{"", "TXN_", "TXN_abc_1", "ORD_42_1", "TXN_42"} {
		_, ok := BookingIDFromTransaction(bad)
		assert.False(t, ok, bad)
	}
}

func TestEncodePayload_NoEscapedSlashes(t *testing.T) {
	c := testClient("https://api.test")
	req := c.NewPayRequest("TXN_1_1", "USER_9", 450000, "9876543210")

	encoded, err := EncodePayload(req)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(string(raw), "\n"))
	assert.Contains(t, string(raw), `"redirectUrl":"https://resortwala.test/payment/return"`)
	assert.Contains(t, string(raw), `"paymentInstrument":{"type":"PAY_PAGE"}`)
	assert.Contains(t, string(raw), `"redirectMode":"POST"`)
	assert.Contains(t, string(raw), `"amount":450000`)
}

func TestChecksums(t *testing.T) {
	assert.Equal(t, sha256Hex("abc/pg/v1/paysalt")+"###1", PayChecksum("abc", "salt", "1"))
	assert.Equal(t, sha256Hex("abcsalt")+"###2", CallbackChecksum("abc", "salt", "2"))
}

func TestVerifyCallback(t *testing.T) {
	c := testClient("")
	body := base64.StdEncoding.EncodeToString([]byte(`{"code":"PAYMENT_SUCCESS"}`))
	good := CallbackChecksum(body, "salt-key", "1")

	assert.True(t, c.VerifyCallback(body, good))
	assert.False(t, c.VerifyCallback(body, good+"0"))
	assert.False(t, c.VerifyCallback(body, CallbackChecksum(body, "other", "1")))
	assert.False(t, c.VerifyCallback("", good))
	assert.False(t, c.VerifyCallback(body, ""))
}

func TestDecodeCallback(t *testing.T) {
	payload := `{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"TXN_7_100","transactionId":"T123","amount":100}}`
	resp, err := DecodeCallback(base64.StdEncoding.EncodeToString([]byte(payload)))
	require.NoError(t, err)
	assert.Equal(t, CodePaymentSuccess, resp.Code)
	assert.Equal(t, "TXN_7_100", resp.Data.MerchantTransactionID)
	assert.Equal(t, "T123", resp.Data.TransactionID)

	resp, err = DecodeCallback(base64.StdEncoding.EncodeToString([]byte(`{"data":{}}`)))
	require.NoError(t, err)
	assert.Equal(t, CodePaymentError, resp.Code)

	_, err = DecodeCallback("!!!")
	assert.Error(t, err)
}

func TestInitiate(t *testing.T) {
	var gotVerify string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pg/v1/pay", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotVerify = r.Header.Get("X-VERIFY")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://pay.test/checkout/1"}}}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	req := c.NewPayRequest("TXN_1_1", "USER_9", 100, "")
	url, err := c.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/checkout/1", url)

	expected, err := EncodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, expected, gotBody["request"])
	assert.Equal(t, PayChecksum(expected, "salt-key", "1"), gotVerify)
}

func TestInitiate_GatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"code":"BAD_REQUEST","message":"invalid"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Initiate(context.Background(), c.NewPayRequest("TXN_1_1", "USER_9", 100, ""))
	assert.ErrorIs(t, err, ErrGateway)
}

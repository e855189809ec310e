package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"resortwala/internal/config"
)

const payPath = "/pg/v1/pay"

const (
	CodePaymentSuccess  = "PAYMENT_SUCCESS"
	CodePaymentPending  = "PAYMENT_PENDING"
	CodePaymentRefunded = "PAYMENT_REFUNDED"
	CodePaymentError    = "PAYMENT_ERROR"
)

var ErrGateway = errors.New("payment gateway error")

// PayRequest is the standard checkout payload, sent base64 encoded.
type PayRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     PaymentInstrument `json:"paymentInstrument"`
}

type PaymentInstrument struct {
	Type string `json:"type"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// CallbackResponse is the decoded "response" field of a server callback.
type CallbackResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
	} `json:"data"`
}

// PhonePeClient talks to the PhonePe standard checkout API.
type PhonePeClient struct {
	cfg    config.PhonePeConfig
	http   *http.Client
	logger *zerolog.Logger
}

func NewPhonePeClient(cfg config.PhonePeConfig, logger *zerolog.Logger) *PhonePeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PhonePeClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// MerchantTransactionID builds TXN_<bookingID>_<unix>.
func MerchantTransactionID(bookingID int64, now time.Time) string {
	return fmt.Sprintf("TXN_%d_%d", bookingID, now.Unix())
}

// BookingIDFromTransaction extracts the booking id from TXN_<id>_<unix>.
func BookingIDFromTransaction(merchantTxnID string) (int64, bool) {
	parts := strings.Split(merchantTxnID, "_")
	if len(parts) != 3 || parts[0] != "TXN" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PayChecksum is the X-VERIFY header for a pay request.
func PayChecksum(base64Payload, saltKey, saltIndex string) string {
	return sha256Hex(base64Payload+payPath+saltKey) + "###" + saltIndex
}

// CallbackChecksum is the X-VERIFY value the gateway sends with a callback.
func CallbackChecksum(base64Response, saltKey, saltIndex string) string {
	return sha256Hex(base64Response+saltKey) + "###" + saltIndex
}

// VerifyCallback compares the callback checksum in constant time.
func (c *PhonePeClient) VerifyCallback(base64Response, xVerify string) bool {
	if base64Response == "" || xVerify == "" || c.cfg.SaltKey == "" {
		return false
	}
	expected := CallbackChecksum(base64Response, c.cfg.SaltKey, c.cfg.SaltIndex)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(xVerify)) == 1
}

// DecodeCallback decodes the base64 callback body.
func DecodeCallback(base64Response string) (*CallbackResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Response)
	if err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	var resp CallbackResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse callback: %w", err)
	}
	if resp.Code == "" {
		resp.Code = CodePaymentError
	}
	return &resp, nil
}

// EncodePayload renders the request as base64 JSON without HTML escaping.
func EncodePayload(req *PayRequest) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// NewPayRequest fills merchant settings into a pay request.
func (c *PhonePeClient) NewPayRequest(merchantTxnID, merchantUserID string, amountPaise int64, mobile string) *PayRequest {
	return &PayRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: merchantTxnID,
		MerchantUserID:        merchantUserID,
		Amount:                amountPaise,
		RedirectURL:           c.cfg.RedirectURL,
		RedirectMode:          "POST",
		CallbackURL:           c.cfg.CallbackURL,
		MobileNumber:          mobile,
		PaymentInstrument:     PaymentInstrument{Type: "PAY_PAGE"},
	}
}

// Initiate posts the pay request and returns the checkout redirect URL.
func (c *PhonePeClient) Initiate(ctx context.Context, req *PayRequest) (string, error) {
	payload, err := EncodePayload(req)
	if err != nil {
		return "", fmt.Errorf("encode pay request: %w", err)
	}
	body, err := json.Marshal(map[string]string{"request": payload})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+payPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", PayChecksum(payload, c.cfg.SaltKey, c.cfg.SaltIndex))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}

	var parsed payResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: status %d: invalid response", ErrGateway, resp.StatusCode)
	}
	url := parsed.Data.InstrumentResponse.RedirectInfo.URL
	if resp.StatusCode != http.StatusOK || !parsed.Success || url == "" {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("code", parsed.Code).
			Str("message", parsed.Message).
			Str("merchant_txn_id", req.MerchantTransactionID).
			Msg("PhonePe pay request rejected")
		return "", fmt.Errorf("%w: %s %s", ErrGateway, parsed.Code, parsed.Message)
	}
	return url, nil
}

package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/veloura/api/internal/platform/config"
)

// Gateway response codes returned to the hosted payment gateway on IPN
// callbacks. The gateway retries based on these codes, not HTTP status.
const (
	GatewayCodeSuccess          = "00"
	GatewayCodeOrderNotFound    = "01"
	GatewayCodeAlreadyConfirmed = "02"
	GatewayCodeAmountMismatch   = "04"
	GatewayCodeChecksumFailed   = "97"
	GatewayCodeUnknownError     = "99"
)

const (
	gatewayVersion    = "2.1.0"
	gatewayCommandPay = "pay"
	gatewayCurrency   = "VND"
	gatewayTimeLayout = "20060102150405"

	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
)

// ErrGatewaySignature is returned when a callback signature does not verify.
var ErrGatewaySignature = errors.New("payments: gateway signature mismatch")

// PayURLRequest carries everything needed to build a hosted payment page URL.
type PayURLRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	Locale    string
	BankCode  string
	Now       time.Time
}

// CallbackData is the verified, decoded payload of a gateway return or IPN.
type CallbackData struct {
	TxnRef        string
	Amount        int64
	ResponseCode  string
	TransactionNo string
	BankCode      string
	PayDate       string
}

// Succeeded reports whether the gateway confirmed the payment.
func (d CallbackData) Succeeded() bool {
	return d.ResponseCode == GatewayCodeSuccess
}

// Gateway builds signed hosted-payment-page URLs and verifies the signatures
// on the redirects and server callbacks coming back from the gateway.
type Gateway struct {
	terminalCode string
	hashSecret   []byte
	payURL       string
	returnURL    string
	sessionTTL   time.Duration
	clock        func() time.Time
}

// GatewayOption configures optional Gateway behaviour.
type GatewayOption func(*Gateway)

// WithGatewayClock overrides the clock used for create/expire timestamps.
func WithGatewayClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGateway constructs a Gateway from configuration.
func NewGateway(cfg config.GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	terminal := strings.TrimSpace(cfg.TerminalCode)
	secret := strings.TrimSpace(cfg.HashSecret)
	payURL := strings.TrimSpace(cfg.PayURL)
	if terminal == "" || secret == "" || payURL == "" {
		return nil, errors.New("payments: gateway terminal code, hash secret, and pay url are required")
	}
	if _, err := url.Parse(payURL); err != nil {
		return nil, errors.New("payments: gateway pay url is invalid")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	g := &Gateway{
		terminalCode: terminal,
		hashSecret:   []byte(secret),
		payURL:       payURL,
		returnURL:    strings.TrimSpace(cfg.ReturnURL),
		sessionTTL:   ttl,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// BuildPayURL assembles the signed redirect URL for the hosted payment page.
// Amounts are multiplied by 100 per the gateway's minor-unit convention.
func (g *Gateway) BuildPayURL(req PayURLRequest) (string, error) {
	if g == nil {
		return "", errors.New("payments: gateway is nil")
	}
	txnRef := strings.TrimSpace(req.TxnRef)
	if txnRef == "" {
		return "", errors.New("payments: gateway pay url requires a transaction reference")
	}
	if req.Amount <= 0 {
		return "", errors.New("payments: gateway pay url requires a positive amount")
	}

	now := req.Now
	if now.IsZero() {
		now = g.clock()
	}
	now = now.UTC()

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = "vn"
	}
	orderInfo := strings.TrimSpace(req.OrderInfo)
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + txnRef
	}

	params := map[string]string{
		"vnp_Version":    gatewayVersion,
		"vnp_Command":    gatewayCommandPay,
		"vnp_TmnCode":    g.terminalCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   gatewayCurrency,
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  g.returnURL,
		"vnp_IpAddr":     strings.TrimSpace(req.ClientIP),
		"vnp_CreateDate": now.Format(gatewayTimeLayout),
		"vnp_ExpireDate": now.Add(g.sessionTTL).Format(gatewayTimeLayout),
	}
	if bank := strings.TrimSpace(req.BankCode); bank != "" {
		params["vnp_BankCode"] = bank
	}

	query, signature := g.sign(params)
	return g.payURL + "?" + query + "&" + paramSecureHash + "=" + signature, nil
}

// VerifyCallback validates the signature on a gateway redirect or IPN and
// decodes the transaction outcome. It returns ErrGatewaySignature when the
// recomputed digest does not match the one the gateway sent.
func (g *Gateway) VerifyCallback(values url.Values) (CallbackData, error) {
	if g == nil {
		return CallbackData{}, errors.New("payments: gateway is nil")
	}
	received := strings.TrimSpace(values.Get(paramSecureHash))
	if received == "" {
		return CallbackData{}, ErrGatewaySignature
	}

	params := make(map[string]string, len(values))
	for key := range values {
		if key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		params[key] = values.Get(key)
	}
	_, expected := g.sign(params)
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return CallbackData{}, ErrGatewaySignature
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(values.Get("vnp_Amount")), 10, 64)
	if err != nil {
		return CallbackData{}, errors.New("payments: gateway callback amount is not numeric")
	}

	return CallbackData{
		TxnRef:        strings.TrimSpace(values.Get("vnp_TxnRef")),
		Amount:        amount / 100,
		ResponseCode:  strings.TrimSpace(values.Get("vnp_ResponseCode")),
		TransactionNo: strings.TrimSpace(values.Get("vnp_TransactionNo")),
		BankCode:      strings.TrimSpace(values.Get("vnp_BankCode")),
		PayDate:       strings.TrimSpace(values.Get("vnp_PayDate")),
	}, nil
}

// sign serialises the non-empty parameters sorted by key, URL-encoded, and
// returns the serialised query alongside its HMAC-SHA512 hex digest.
func (g *Gateway) sign(params map[string]string) (query, signature string) {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[key]))
	}
	query = b.String()

	mac := hmac.New(sha512.New, g.hashSecret)
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

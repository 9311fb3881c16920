package topup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lrgstore/idstore/pkg/logger"
)

// voucherCodeLength is the fixed length of TrueMoney voucher codes.
const voucherCodeLength = 35

var alnumPattern = regexp.MustCompile(`[0-9A-Za-z]+`)

// VoucherResult is a successful redemption.
type VoucherResult struct {
	Amount    float64
	OwnerName string
}

// VoucherVerifier redeems a voucher code against the merchant wallet.
type VoucherVerifier interface {
	Redeem(ctx context.Context, code, mobile string) (VoucherResult, error)
}

// ParseVoucherCode extracts the 35-character voucher code from a raw
// voucher link or bare code.
func ParseVoucherCode(link string) (string, error) {
	link = strings.TrimSpace(link)
	codePart := link
	if _, after, found := strings.Cut(link, "v="); found {
		codePart = after
	}

	code := alnumPattern.FindString(codePart)
	if code == "" {
		return "", fmt.Errorf("invalid voucher link")
	}
	if len(code) != voucherCodeLength {
		return "", fmt.Errorf("invalid voucher code length (%d/%d)", len(code), voucherCodeLength)
	}
	return code, nil
}

// Doer abstracts *http.Client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPVerifier redeems vouchers through the wallet proxy API.
type HTTPVerifier struct {
	client   Doer
	endpoint string
	log      *logger.Logger
}

var _ VoucherVerifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier creates a verifier for the given proxy endpoint.
func NewHTTPVerifier(client Doer, endpoint string, log *logger.Logger) (*HTTPVerifier, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("verifier endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("topup")
	}
	return &HTTPVerifier{client: client, endpoint: endpoint, log: log}, nil
}

// Redeem posts the voucher to the proxy and interprets its response. A
// non-SUCCESS status code is returned as an error carrying the proxy's
// message.
func (v *HTTPVerifier) Redeem(ctx context.Context, code, mobile string) (VoucherResult, error) {
	payload, err := json.Marshal(map[string]string{
		"mobile":  mobile,
		"voucher": code,
	})
	if err != nil {
		return VoucherResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return VoucherResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return VoucherResult{}, fmt.Errorf("voucher proxy: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return VoucherResult{}, fmt.Errorf("voucher proxy: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return VoucherResult{}, fmt.Errorf("voucher proxy returned status %d", resp.StatusCode)
	}

	status := gjson.GetBytes(body, "status.code").String()
	if status != "SUCCESS" {
		message := gjson.GetBytes(body, "status.message").String()
		if message == "" {
			message = status
		}
		if message == "" {
			message = "unknown error"
		}
		return VoucherResult{}, fmt.Errorf("voucher rejected: %s", message)
	}

	amountRaw := gjson.GetBytes(body, "data.my_ticket.amount_baht").String()
	amountRaw = strings.ReplaceAll(amountRaw, ",", "")
	amount := gjson.Parse(amountRaw).Float()

	owner := gjson.GetBytes(body, "data.owner_profile.full_name").String()
	if owner == "" {
		owner = "Unknown"
	}

	return VoucherResult{Amount: amount, OwnerName: owner}, nil
}

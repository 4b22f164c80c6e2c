// Package payment integrates the Robokassa merchant API: building signed
// payment links and polling invoice state for confirmation.
package payment

import (
	"context"
	"crypto/md5" //nolint:gosec // the merchant API mandates md5 signatures
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
)

// invoice state code reported by OpStateExt for a completed payment
const statePaid = 100

// CheckResult is the polled state of one invoice.
type CheckResult struct {
	Paid bool
	// Amount is the paid sum in whole currency units, set when Paid.
	Amount int64
}

// Client builds payment links and confirms payments.
type Client interface {
	// PaymentURL returns the signed checkout link for an invoice.
	PaymentURL(invoiceID, amount int64, description string) string

	// CheckPayment polls the invoice state. An invoice the gateway does not
	// know yet reports as unpaid, not as an error.
	CheckPayment(ctx context.Context, invoiceID int64) (CheckResult, error)
}

type client struct {
	http   *http.Client
	cfg    config.PaymentConfig
	logger *slog.Logger
}

// New creates a Robokassa client from the merchant configuration.
func New(cfg config.PaymentConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &client{
		http:   &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
		logger: logger.With("component", "payment"),
	}
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // mandated by the gateway
	return hex.EncodeToString(sum[:])
}

// PaymentURL returns the signed checkout link for an invoice. The signature
// covers login, amount, and invoice ID with the first merchant password.
func (c *client) PaymentURL(invoiceID, amount int64, description string) string {
	outSum := strconv.FormatInt(amount, 10)
	signature := md5hex(fmt.Sprintf("%s:%s:%d:%s", c.cfg.Login, outSum, invoiceID, c.cfg.Password1))

	q := url.Values{}
	q.Set("MerchantLogin", c.cfg.Login)
	q.Set("OutSum", outSum)
	q.Set("InvId", strconv.FormatInt(invoiceID, 10))
	q.Set("Description", description)
	q.Set("SignatureValue", signature)

	return c.cfg.BaseURL + "/Merchant/Index.aspx?" + q.Encode()
}

type opStateResponse struct {
	Result struct {
		Code        int    `xml:"Code"`
		Description string `xml:"Description"`
	} `xml:"Result"`
	State struct {
		Code int `xml:"Code"`
	} `xml:"State"`
	Info struct {
		OutSum string `xml:"OutSum"`
	} `xml:"Info"`
}

// CheckPayment polls the gateway's OpStateExt endpoint. The signature covers
// login and invoice ID with the second merchant password.
func (c *client) CheckPayment(ctx context.Context, invoiceID int64) (CheckResult, error) {
	signature := md5hex(fmt.Sprintf("%s:%d:%s", c.cfg.Login, invoiceID, c.cfg.Password2))

	q := url.Values{}
	q.Set("MerchantLogin", c.cfg.Login)
	q.Set("InvoiceID", strconv.FormatInt(invoiceID, 10))
	q.Set("Signature", signature)

	endpoint := c.cfg.BaseURL + "/Merchant/WebService/Service.asmx/OpStateExt?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to build payment check request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}, fmt.Errorf("payment check request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return CheckResult{}, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var state opStateResponse
	if err := xml.NewDecoder(resp.Body).Decode(&state); err != nil {
		return CheckResult{}, fmt.Errorf("failed to decode payment state: %w", err)
	}

	if state.Result.Code != 0 {
		// Nonzero result codes include "operation not found", which simply
		// means the user has not paid yet.
		c.logger.DebugContext(ctx, "Payment not confirmed",
			"invoice_id", invoiceID, "result_code", state.Result.Code, "description", state.Result.Description)
		return CheckResult{Paid: false}, nil
	}

	if state.State.Code != statePaid {
		c.logger.DebugContext(ctx, "Payment still pending",
			"invoice_id", invoiceID, "state_code", state.State.Code)
		return CheckResult{Paid: false}, nil
	}

	amount, err := parseOutSum(state.Info.OutSum)
	if err != nil {
		return CheckResult{}, fmt.Errorf("payment confirmed but amount unreadable: %w", err)
	}

	c.logger.InfoContext(ctx, "Payment confirmed", "invoice_id", invoiceID, "amount", amount)
	return CheckResult{Paid: true, Amount: amount}, nil
}

// parseOutSum converts the gateway's decimal sum (for example "500.000000")
// to whole currency units.
func parseOutSum(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty sum")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f + 0.5), nil
}

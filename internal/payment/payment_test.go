// Package payment_test tests the merchant gateway client against a stub server.
package payment_test

import (
	"context"
	"crypto/md5" //nolint:gosec // the gateway signature scheme uses md5
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/payment"
)

func signature(parts ...any) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += ":"
		}
		s += fmt.Sprint(p)
	}
	sum := md5.Sum([]byte(s)) //nolint:gosec // mandated by the gateway
	return hex.EncodeToString(sum[:])
}

func testPaymentConfig(baseURL string) config.PaymentConfig {
	return config.PaymentConfig{
		Login:     "shop",
		Password1: "pass-one",
		Password2: "pass-two",
		BaseURL:   baseURL,
	}
}

func TestPaymentURL(t *testing.T) {
	t.Parallel()

	client := payment.New(testPaymentConfig("https://auth.example.com"), nil)

	raw := client.PaymentURL(12345, 500, "Standard plan")

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("PaymentURL() returned unparseable URL: %v", err)
	}
	if parsed.Path != "/Merchant/Index.aspx" {
		t.Errorf("path = %q, want /Merchant/Index.aspx", parsed.Path)
	}

	q := parsed.Query()
	if q.Get("MerchantLogin") != "shop" {
		t.Errorf("MerchantLogin = %q, want shop", q.Get("MerchantLogin"))
	}
	if q.Get("OutSum") != "500" || q.Get("InvId") != "12345" {
		t.Errorf("OutSum/InvId = %q/%q, want 500/12345", q.Get("OutSum"), q.Get("InvId"))
	}
	if q.Get("Description") != "Standard plan" {
		t.Errorf("Description = %q, want Standard plan", q.Get("Description"))
	}
	if want := signature("shop", 500, 12345, "pass-one"); q.Get("SignatureValue") != want {
		t.Errorf("SignatureValue = %q, want %q", q.Get("SignatureValue"), want)
	}
}

func stateResponse(resultCode, stateCode int, outSum string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<OperationStateResponse xmlns="http://merchant.roboxchange.com/WebService/">
  <Result><Code>%d</Code><Description>OK</Description></Result>
  <State><Code>%d</Code></State>
  <Info><OutSum>%s</OutSum></Info>
</OperationStateResponse>`, resultCode, stateCode, outSum)
}

func TestCheckPayment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		response   string
		wantPaid   bool
		wantAmount int64
		wantErr    bool
	}{
		{
			name:       "paid invoice",
			response:   stateResponse(0, 100, "500.000000"),
			wantPaid:   true,
			wantAmount: 500,
		},
		{
			name:     "pending invoice",
			response: stateResponse(0, 50, ""),
			wantPaid: false,
		},
		{
			name:     "unknown invoice reports unpaid not error",
			response: stateResponse(3, 0, ""),
			wantPaid: false,
		},
		{
			name:       "fractional sum rounds to whole units",
			response:   stateResponse(0, 100, "1499.990000"),
			wantPaid:   true,
			wantAmount: 1500,
		},
		{
			name:     "paid but unreadable sum",
			response: stateResponse(0, 100, "not-a-number"),
			wantErr:  true,
		},
		{
			name:     "malformed body",
			response: "<<<not xml",
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotQuery url.Values
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/Merchant/WebService/Service.asmx/OpStateExt" {
					http.NotFound(w, r)
					return
				}
				gotQuery = r.URL.Query()
				w.Header().Set("Content-Type", "text/xml")
				_, _ = w.Write([]byte(tc.response))
			}))
			defer srv.Close()

			client := payment.New(testPaymentConfig(srv.URL), nil)

			result, err := client.CheckPayment(context.Background(), 777)
			if tc.wantErr {
				if err == nil {
					t.Fatal("CheckPayment() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckPayment() error = %v", err)
			}

			if result.Paid != tc.wantPaid {
				t.Errorf("Paid = %v, want %v", result.Paid, tc.wantPaid)
			}
			if result.Amount != tc.wantAmount {
				t.Errorf("Amount = %d, want %d", result.Amount, tc.wantAmount)
			}

			if got := gotQuery.Get("InvoiceID"); got != "777" {
				t.Errorf("InvoiceID = %q, want 777", got)
			}
			if want := signature("shop", 777, "pass-two"); gotQuery.Get("Signature") != want {
				t.Errorf("Signature = %q, want %q", gotQuery.Get("Signature"), want)
			}
		})
	}
}

func TestCheckPaymentGatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := payment.New(testPaymentConfig(srv.URL), nil)

	if _, err := client.CheckPayment(context.Background(), 1); err == nil {
		t.Error("CheckPayment() error = nil on HTTP 502, want error")
	}
}

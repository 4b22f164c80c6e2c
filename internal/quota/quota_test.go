// Package quota_test tests the authorization policy.
package quota_test

import (
	"testing"
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/quota"
)

func TestAuthorize(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tier := config.TierConfig{
		Key:         "standard",
		Name:        "Standard",
		Price:       500,
		GPT35Tokens: 100000,
		GPT4Tokens:  0,
	}

	tests := []struct {
		name     string
		account  database.Account
		resource quota.Resource
		want     quota.Verdict
	}{
		{
			name: "active account with balance",
			account: database.Account{
				GPT35Balance: 5000,
				TierExpiry:   now.AddDate(0, 0, 10),
			},
			resource: quota.ResourceGPT35,
			want:     quota.Allowed,
		},
		{
			name: "expired account refused even with balance",
			account: database.Account{
				GPT35Balance: 5000,
				TierExpiry:   now.AddDate(0, 0, -1),
			},
			resource: quota.ResourceGPT35,
			want:     quota.Expired,
		},
		{
			name: "resource not in tier",
			account: database.Account{
				GPT4Balance: 0,
				TierExpiry:  now.AddDate(0, 0, 10),
			},
			resource: quota.ResourceGPT4,
			want:     quota.NoEntitlement,
		},
		{
			name: "spent balance on included resource",
			account: database.Account{
				GPT35Balance: 0,
				TierExpiry:   now.AddDate(0, 0, 10),
			},
			resource: quota.ResourceGPT35,
			want:     quota.Exhausted,
		},
		{
			name: "negative balance after overdraft",
			account: database.Account{
				GPT35Balance: -320,
				TierExpiry:   now.AddDate(0, 0, 10),
			},
			resource: quota.ResourceGPT35,
			want:     quota.Exhausted,
		},
		{
			name: "expiry checked before entitlement",
			account: database.Account{
				GPT4Balance: 0,
				TierExpiry:  now.AddDate(0, 0, -5),
			},
			resource: quota.ResourceGPT4,
			want:     quota.Expired,
		},
		{
			name: "expiry at exact boundary still allowed",
			account: database.Account{
				GPT35Balance: 100,
				TierExpiry:   now,
			},
			resource: quota.ResourceGPT35,
			want:     quota.Allowed,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := quota.Authorize(&tc.account, tier, tc.resource, now)
			if got.Verdict != tc.want {
				t.Errorf("Authorize() verdict = %s, want %s", got.Verdict, tc.want)
			}
			if got.Remaining != quota.Balance(&tc.account, tc.resource) {
				t.Errorf("Authorize() remaining = %d, want %d", got.Remaining, quota.Balance(&tc.account, tc.resource))
			}
		})
	}
}

func TestResourceColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		resource quota.Resource
		want     string
	}{
		{quota.ResourceGPT4, database.ColGPT4Balance},
		{quota.ResourceGPT35, database.ColGPT35Balance},
		{quota.ResourceImage, database.ColImageBalance},
		{quota.ResourceTranscription, database.ColTranscriptionBalance},
		{quota.ResourceSpeech, database.ColSpeechBalance},
		{quota.Resource("bogus"), ""},
	}

	for _, tc := range tests {
		if got := tc.resource.Column(); got != tc.want {
			t.Errorf("Column(%q) = %q, want %q", tc.resource, got, tc.want)
		}
	}
}

func TestGrant(t *testing.T) {
	t.Parallel()

	tier := config.TierConfig{
		Key:                  "premium",
		Name:                 "Premium",
		Price:                1500,
		GPT4Tokens:           200000,
		GPT35Tokens:          1000000,
		ImageCredits:         50,
		TranscriptionCredits: 100,
		SpeechChars:          20000,
	}
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	grant := quota.Grant(tier, expiry, false, "inv-42")

	if grant.Tier != "premium" {
		t.Errorf("grant.Tier = %q, want %q", grant.Tier, "premium")
	}
	if grant.GPT4Tokens != tier.GPT4Tokens || grant.GPT35Tokens != tier.GPT35Tokens {
		t.Errorf("grant token allotments = (%d, %d), want (%d, %d)",
			grant.GPT4Tokens, grant.GPT35Tokens, tier.GPT4Tokens, tier.GPT35Tokens)
	}
	if grant.ImageCredits != 50 || grant.TranscriptionCredits != 100 || grant.SpeechChars != 20000 {
		t.Errorf("grant credit allotments = (%d, %d, %d), want (50, 100, 20000)",
			grant.ImageCredits, grant.TranscriptionCredits, grant.SpeechChars)
	}
	if !grant.Expiry.Equal(expiry) {
		t.Errorf("grant.Expiry = %v, want %v", grant.Expiry, expiry)
	}
	if grant.IsTrial {
		t.Error("grant.IsTrial = true, want false")
	}
	if grant.PaymentRef != "inv-42" {
		t.Errorf("grant.PaymentRef = %q, want %q", grant.PaymentRef, "inv-42")
	}
}

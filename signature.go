/*
Copyright 2024 Andes Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package campus

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/andeslabs/campus/model"
)

// ErrNoSecret reports a missing shared secret. It is a configuration error,
// distinct from a verification mismatch which is a trust failure.
var ErrNoSecret = errors.New("payment signature secret is not configured")

// SignatureEngine computes and verifies the keyed digest binding a
// transaction's identity fields. The gateway's scheme is an MD5 digest of
// secret~merchantId~referenceCode~amount~currency with an optional trailing
// state code; the digest proves the message was produced by a holder of the
// shared secret and was not altered in transit.
type SignatureEngine struct{}

func NewSignatureEngine() *SignatureEngine {
	return &SignatureEngine{}
}

// ComputeDigest canonicalizes the identity fields and returns the keyed
// digest. The canonical amount format is the minimal decimal representation:
// integer amounts render without a decimal point. Changing this format is a
// wire-compatibility migration, pinned by a golden test.
func (s *SignatureEngine) ComputeDigest(secret, merchantID, referenceCode string, amount float64, currency string) (string, error) {
	return s.digest(secret, merchantID, referenceCode, amount, currency, "")
}

// VerifyNotification recomputes the digest from the notification's declared
// fields, including the state-code suffix when present, and compares it
// byte-for-byte against the supplied signature. It fails closed: any missing
// field or computation error yields false.
func (s *SignatureEngine) VerifyNotification(n model.PaymentNotification, secret string) bool {
	if strings.TrimSpace(secret) == "" || n.Signature == "" {
		return false
	}
	if n.MerchantID == "" || n.ReferenceCode == "" || n.Currency == "" {
		return false
	}

	expected, err := s.digest(secret, n.MerchantID, n.ReferenceCode, n.Amount, n.Currency, n.StatusCode)
	if err != nil {
		return false
	}

	supplied := strings.ToLower(strings.TrimSpace(n.Signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// EnumerateVariants produces the digest under multiple plausible
// canonicalizations for integration debugging: amount precision, field
// trimming, case folding, and the trailing state code. Variants are
// diagnostics only and must never be used to accept a notification;
// verification trusts the single canonical form.
func (s *SignatureEngine) EnumerateVariants(secret, merchantID, referenceCode string, amount float64, currency, statusCode string) []model.SignatureVariant {
	if strings.TrimSpace(secret) == "" {
		return nil
	}

	amountForms := []struct {
		label string
		value string
	}{
		{"amount_minimal", formatAmount(amount)},
		{"amount_1dp", decimal.NewFromFloat(amount).StringFixed(1)},
		{"amount_2dp", decimal.NewFromFloat(amount).StringFixed(2)},
	}

	var variants []model.SignatureVariant
	add := func(label, canonical string) {
		sum := md5.Sum([]byte(canonical))
		variants = append(variants, model.SignatureVariant{
			Label:           label,
			CanonicalString: canonical,
			Digest:          hex.EncodeToString(sum[:]),
		})
	}

	for _, af := range amountForms {
		base := strings.Join([]string{secret, merchantID, referenceCode, af.value, currency}, "~")
		add(af.label, base)
		if statusCode != "" {
			add(af.label+"_with_state", base+"~"+statusCode)
		}
	}

	trimmed := strings.Join([]string{
		strings.TrimSpace(secret),
		strings.TrimSpace(merchantID),
		strings.TrimSpace(referenceCode),
		formatAmount(amount),
		strings.TrimSpace(currency),
	}, "~")
	add("fields_trimmed", trimmed)
	add("folded_upper", strings.ToUpper(trimmed))
	add("folded_lower", strings.ToLower(trimmed))

	return variants
}

func (s *SignatureEngine) digest(secret, merchantID, referenceCode string, amount float64, currency, statusCode string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrNoSecret
	}

	parts := []string{secret, merchantID, referenceCode, formatAmount(amount), currency}
	if statusCode != "" {
		parts = append(parts, statusCode)
	}

	sum := md5.Sum([]byte(strings.Join(parts, "~")))
	return hex.EncodeToString(sum[:]), nil
}

// formatAmount renders the canonical amount: minimal decimal representation
// with no trailing zeros.
func formatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).String()
}

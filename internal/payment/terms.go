package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Terms is the first entry of the base64 encoded payment_required array:
// the on-chain amount, asset and payee a signer must authorize.
type Terms struct {
	Scheme            string `json:"scheme,omitempty"`
	Network           string `json:"network,omitempty"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource,omitempty"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType,omitempty"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string `json:"asset"`
}

// Terms decodes the requirement's payment_required payload.
func (r Requirement) Terms() (Terms, error) {
	return DecodeTerms(r.PaymentRequiredB64)
}

// DecodeTerms decodes a base64 JSON array of payment terms and returns the
// first element.
func DecodeTerms(encoded string) (Terms, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Terms{}, fmt.Errorf("payment terms are empty")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some signers emit unpadded or URL-safe base64.
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return Terms{}, fmt.Errorf("decode payment terms: %w", err)
		}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Terms{}, fmt.Errorf("parse payment terms: %w", err)
	}
	if len(entries) == 0 {
		return Terms{}, fmt.Errorf("payment terms array is empty")
	}

	var first struct {
		Terms
		MaxAmountRequired json.RawMessage `json:"maxAmountRequired"`
	}
	if err := json.Unmarshal(entries[0], &first); err != nil {
		return Terms{}, fmt.Errorf("parse payment terms entry: %w", err)
	}
	terms := first.Terms
	terms.MaxAmountRequired = amountString(first.MaxAmountRequired)

	var missing []string
	if terms.MaxAmountRequired == "" {
		missing = append(missing, "maxAmountRequired")
	}
	if terms.Asset == "" {
		missing = append(missing, "asset")
	}
	if terms.PayTo == "" {
		missing = append(missing, "payTo")
	}
	if terms.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return Terms{}, fmt.Errorf("payment terms missing %s", strings.Join(missing, ", "))
	}
	return terms, nil
}

// amountString accepts the amount as a JSON string or number.
func amountString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

package payment

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDetails() map[string]any {
	return map[string]any{
		"service":          "design",
		"amount_cents":     float64(500),
		"accepted_header":  "X-PAYMENT",
		"payment_required": "W10=",
		"message":          "pay",
		"next_step":        "sign and retry",
	}
}

func TestDecodeValidObject(t *testing.T) {
	req, ok := Decode(validDetails())
	require.True(t, ok)
	assert.Equal(t, Requirement{
		Service:            "design",
		AmountCents:        500,
		AcceptedHeader:     "X-PAYMENT",
		PaymentRequiredB64: "W10=",
		Message:            "pay",
		NextStep:           "sign and retry",
	}, req)
}

func TestDecodeMissingAnySingleField(t *testing.T) {
	for field := range validDetails() {
		t.Run(field, func(t *testing.T) {
			details := validDetails()
			delete(details, field)
			_, ok := Decode(details)
			assert.False(t, ok)
		})
	}
}

func TestDecodeWrongTypes(t *testing.T) {
	tests := map[string]any{
		"service":          42,
		"amount_cents":     "500",
		"accepted_header":  nil,
		"payment_required": []any{"x"},
		"message":          true,
		"next_step":        map[string]any{},
	}
	for field, value := range tests {
		t.Run(field, func(t *testing.T) {
			details := validDetails()
			details[field] = value
			_, ok := Decode(details)
			assert.False(t, ok)
		})
	}
}

func TestDecodeRejectsBadAmounts(t *testing.T) {
	for name, amount := range map[string]any{
		"negative":   float64(-1),
		"fractional": 1.5,
		"int":        -3,
	} {
		t.Run(name, func(t *testing.T) {
			details := validDetails()
			details["amount_cents"] = amount
			_, ok := Decode(details)
			assert.False(t, ok)
		})
	}
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	details := validDetails()
	details["campaign_id"] = "c-1"
	req, ok := Decode(details)
	require.True(t, ok)
	assert.Equal(t, uint64(500), req.AmountCents)
}

func TestDecodeRawJSONAndPassThrough(t *testing.T) {
	raw, err := json.Marshal(validDetails())
	require.NoError(t, err)

	fromBytes, ok := Decode(raw)
	require.True(t, ok)
	fromRaw, ok := Decode(json.RawMessage(raw))
	require.True(t, ok)
	assert.Equal(t, fromBytes, fromRaw)

	passed, ok := Decode(fromBytes)
	require.True(t, ok)
	assert.Equal(t, fromBytes, passed)

	passedPtr, ok := Decode(&fromBytes)
	require.True(t, ok)
	assert.Equal(t, fromBytes, passedPtr)
}

func TestDecodeNeverPanicsOnJunk(t *testing.T) {
	for _, junk := range []any{
		nil,
		"string",
		42,
		[]any{validDetails()},
		[]byte("not json"),
		[]byte("null"),
		(*Requirement)(nil),
		map[string]any(nil),
	} {
		assert.NotPanics(t, func() {
			_, ok := Decode(junk)
			assert.False(t, ok)
		})
	}
}

func TestDecodeTerms(t *testing.T) {
	payload := `[{"scheme":"exact","network":"base-sepolia","maxAmountRequired":"50000",` +
		`"resource":"https://api.example.com/proxy/design/run","description":"design run",` +
		`"mimeType":"application/json","payTo":"0xabc","maxTimeoutSeconds":60,"asset":"0xusdc"}]`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	terms, err := DecodeTerms(encoded)
	require.NoError(t, err)
	assert.Equal(t, "50000", terms.MaxAmountRequired)
	assert.Equal(t, "0xabc", terms.PayTo)
	assert.Equal(t, "0xusdc", terms.Asset)
	assert.Equal(t, "design run", terms.Description)
	assert.Equal(t, 60, terms.MaxTimeoutSeconds)

	req := Requirement{PaymentRequiredB64: encoded}
	fromReq, err := req.Terms()
	require.NoError(t, err)
	assert.Equal(t, terms, fromReq)
}

func TestDecodeTermsNumericAmount(t *testing.T) {
	payload := `[{"maxAmountRequired":1200,"asset":"0xusdc","payTo":"0xabc","description":"d"}]`
	terms, err := DecodeTerms(base64.RawURLEncoding.EncodeToString([]byte(payload)))
	require.NoError(t, err)
	assert.Equal(t, "1200", terms.MaxAmountRequired)
}

func TestDecodeTermsErrors(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	tests := map[string]string{
		"empty":         "",
		"not base64":    "%%%",
		"not array":     enc(`{"asset":"x"}`),
		"empty array":   enc(`[]`),
		"missing payTo": enc(`[{"maxAmountRequired":"1","asset":"a","description":"d"}]`),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTerms(input)
			assert.Error(t, err)
		})
	}
}

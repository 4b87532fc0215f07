// Package payment decodes HTTP 402 payment challenges returned by the
// campaign backend.
package payment

import (
	"bytes"
	"encoding/json"
	"math"
)

// Requirement is the payment challenge a caller must satisfy before a
// service call succeeds.
type Requirement struct {
	Service            string `json:"service"`
	AmountCents        uint64 `json:"amount_cents"`
	AcceptedHeader     string `json:"accepted_header"`
	PaymentRequiredB64 string `json:"payment_required"`
	Message            string `json:"message"`
	NextStep           string `json:"next_step"`
}

var stringFields = [...]string{"service", "accepted_header", "payment_required", "message", "next_step"}

// Decode turns an opaque error details value into a Requirement. It accepts
// a Requirement, a decoded JSON object or raw JSON bytes. Every field must be
// present with the right primitive type; anything else yields false.
func Decode(details any) (Requirement, bool) {
	switch v := details.(type) {
	case Requirement:
		return v, true
	case *Requirement:
		if v == nil {
			return Requirement{}, false
		}
		return *v, true
	case map[string]any:
		return decodeObject(v)
	case json.RawMessage:
		return decodeBytes(v)
	case []byte:
		return decodeBytes(v)
	default:
		return Requirement{}, false
	}
}

func decodeBytes(raw []byte) (Requirement, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Requirement{}, false
	}
	return decodeObject(obj)
}

func decodeObject(obj map[string]any) (Requirement, bool) {
	if obj == nil {
		return Requirement{}, false
	}
	strs := make(map[string]string, len(stringFields))
	for _, key := range stringFields {
		s, ok := obj[key].(string)
		if !ok {
			return Requirement{}, false
		}
		strs[key] = s
	}
	amount, ok := toCents(obj["amount_cents"])
	if !ok {
		return Requirement{}, false
	}
	return Requirement{
		Service:            strs["service"],
		AmountCents:        amount,
		AcceptedHeader:     strs["accepted_header"],
		PaymentRequiredB64: strs["payment_required"],
		Message:            strs["message"],
		NextStep:           strs["next_step"],
	}, true
}

func toCents(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt64 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return uint64(i), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

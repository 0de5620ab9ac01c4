package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Classify reads what an approved payment bought from its authoritative metadata.
func Classify(payment GatewayPayment) (Purchase, error) {
	kind, err := ParsePurchaseKind(firstString(payment.Metadata, "purchase_kind", "type"))
	if err != nil {
		return Purchase{}, err
	}

	email := normalizeEmail(firstString(payment.Metadata, "email"))
	if email == "" {
		email = normalizeEmail(payment.PayerEmail)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Purchase{}, ErrMissingPayerEmail
	}

	purchase := Purchase{Kind: kind, PayerEmail: email}
	if kind != PurchaseKindExtraVisits {
		return purchase, nil
	}

	quantity, ok := readQuantity(payment.Metadata["quantity"])
	if !ok && len(payment.Items) > 0 {
		quantity, ok = payment.Items[0].Quantity, true
	}
	if !ok || quantity <= 0 {
		return Purchase{}, ErrInvalidQuantity
	}
	purchase.Quantity = quantity
	return purchase, nil
}

func ParsePurchaseKind(raw string) (PurchaseKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "plan":
		return PurchaseKindPlan, nil
	case "extra_visits":
		return PurchaseKindExtraVisits, nil
	default:
		return "", ErrUnknownPurchaseKind
	}
}

func firstString(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok || value == nil {
			continue
		}
		if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
			return str
		}
	}
	return ""
}

func readQuantity(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		parsed, err := v.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package service

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
)

type envelope struct {
	paymentID string
	topic     string
}

// ExtractPaymentID finds the gateway payment id at body.data.id, body.id, or the query string,
// in that order.
func ExtractPaymentID(payload []byte, query url.Values) (string, error) {
	env := parseEnvelope(payload, query)
	if env.paymentID == "" {
		return "", paymentdomain.ErrMissingPaymentID
	}
	return env.paymentID, nil
}

func parseEnvelope(payload []byte, query url.Values) envelope {
	var env envelope

	body := map[string]any{}
	if len(bytes.TrimSpace(payload)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(payload))
		decoder.UseNumber()
		if err := decoder.Decode(&body); err != nil {
			body = map[string]any{}
		}
	}

	if data, ok := body["data"].(map[string]any); ok {
		env.paymentID = scalarString(data["id"])
	}
	if env.paymentID == "" {
		env.paymentID = scalarString(body["id"])
	}
	if env.paymentID == "" {
		env.paymentID = strings.TrimSpace(query.Get("data.id"))
	}
	if env.paymentID == "" {
		env.paymentID = strings.TrimSpace(query.Get("id"))
	}

	for _, candidate := range []string{
		scalarString(body["type"]),
		scalarString(body["topic"]),
		strings.TrimSpace(query.Get("type")),
		strings.TrimSpace(query.Get("topic")),
	} {
		if candidate != "" {
			env.topic = strings.ToLower(candidate)
			break
		}
	}
	return env
}

// isPaymentTopic accepts envelopes without a topic.
func (e envelope) isPaymentTopic() bool {
	return e.topic == "" || strings.HasPrefix(e.topic, "payment")
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

package notifications

import (
	"encoding/json"
	"strconv"
)

// Payload is the kind-specific document stored with a queue item.
// Producers send camelCase keys (productId, notificationType, ...).
type Payload map[string]any

// Payload keys shared by several kinds.
const (
	KeyNotificationType = "notificationType"
	KeyProductID        = "productId"
	KeyOrderID          = "orderId"
	KeyBuyerID          = "buyerId"
	KeyUserID           = "userId"
	KeyOfferID          = "offerId"
	KeyMessageID        = "messageId"
	KeyBroadcastID      = "broadcastId"
	KeyStatus           = "status"
	KeyText             = "text"
	KeyMediaURLs        = "mediaUrls"
	KeyChatID           = "chatId"
	KeyLocale           = "locale"
	KeyAmount           = "amount"
	KeyCurrency         = "currency"
)

// String returns the value under key as a string.
// Numbers are formatted without exponent so numeric ids survive.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Int64 returns the value under key as an integer.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Strings returns the value under key as a list of non-empty strings.
func (p Payload) Strings(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

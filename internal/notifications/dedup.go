package notifications

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Identity is the logical identity of a notification request.
// Two requests with the same identity in the same time bucket are duplicates.
type Identity struct {
	Kind     Kind
	Subtype  string
	EntityID string
}

// String renders the identity as a stable lock/lookup key.
func (id Identity) String() string {
	return string(id.Kind) + "|" + id.Subtype + "|" + id.EntityID
}

// IdentityOf derives the identity of a payload for the given kind.
func IdentityOf(kind Kind, payload Payload) (Identity, error) {
	id := Identity{Kind: kind}

	switch kind {
	case KindProduct:
		id.Subtype = valueOr(payload.String(KeyNotificationType), "active")
		id.EntityID = payload.String(KeyProductID)
	case KindRepost:
		id.Subtype = "repost"
		id.EntityID = payload.String(KeyProductID)
	case KindSold:
		id.Subtype = "sold"
		id.EntityID = payload.String(KeyProductID)
	case KindOrder:
		id.Subtype = valueOr(payload.String(KeyNotificationType), "status")
		id.EntityID = payload.String(KeyOrderID)
	case KindPriceOffer:
		id.Subtype = valueOr(payload.String(KeyNotificationType), "new")
		productID, buyerID := payload.String(KeyProductID), payload.String(KeyBuyerID)
		if productID != "" && buyerID != "" {
			id.EntityID = productID + ":" + buyerID
		}
	case KindBulk:
		id.Subtype = "broadcast"
		id.EntityID = payload.String(KeyBroadcastID)
		if id.EntityID == "" {
			if text := payload.String(KeyText); text != "" {
				id.EntityID = fingerprint(text)[:32]
			}
		}
	case KindPersonal:
		id.Subtype = valueOr(payload.String(KeyNotificationType), "message")
		id.EntityID = payload.String(KeyUserID)
		if msgID := payload.String(KeyMessageID); id.EntityID != "" && msgID != "" {
			id.EntityID += ":" + msgID
		}
	case KindAdminNewProduct:
		id.Subtype = "admin"
		id.EntityID = payload.String(KeyProductID)
	case KindAdminNewUser:
		id.Subtype = "admin"
		id.EntityID = payload.String(KeyUserID)
	case KindUserWelcome:
		id.Subtype = "welcome"
		id.EntityID = payload.String(KeyUserID)
	case KindVerification:
		id.Subtype = valueOr(payload.String(KeyStatus), "changed")
		id.EntityID = payload.String(KeyUserID)
	default:
		return Identity{}, ErrUnknownKind
	}

	if id.EntityID == "" {
		return Identity{}, ErrMissingEntity
	}
	return id, nil
}

// DedupKey returns the fingerprint of the identity within the time bucket
// containing at. Buckets are aligned to the unix epoch.
func DedupKey(id Identity, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Second
	}
	slot := at.UnixNano() / int64(bucket) * int64(bucket) / int64(time.Second)
	return fingerprint(id.String() + "|" + strconv.FormatInt(slot, 10))
}

func fingerprint(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func valueOr(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

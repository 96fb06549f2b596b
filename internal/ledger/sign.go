// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sign returns the lowercase hex HMAC-SHA256 of the canonical consumption
// string. Keys are sorted: amount, feature_key, timestamp, user_id.
func Sign(secret, userID string, amount int64, featureKey string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(userID, amount, featureKey, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalString is the signed payload.
func CanonicalString(userID string, amount int64, featureKey string, timestamp int64) string {
	return "amount=" + strconv.FormatInt(amount, 10) +
		"&feature_key=" + featureKey +
		"&timestamp=" + strconv.FormatInt(timestamp, 10) +
		"&user_id=" + userID
}

// NewOrderID returns TT_<unix>_<8 random hex chars>.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("TT_%d_%s", now.Unix(), uuid.NewString()[:8])
}

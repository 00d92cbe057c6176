package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// NewOrderCode builds a human-readable order code like ORD-240115-3f2a81.
// Uniqueness comes from the random suffix, not the date.
func NewOrderCode(at time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("ORD-%s-%d", at.Format("060102"), at.UnixNano()%1000000)
	}
	return fmt.Sprintf("ORD-%s-%s", at.Format("060102"), hex.EncodeToString(buf))
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultDuplicateWindow = 24 * time.Hour

// Fingerprint hashes the buyer contact and order total. The total is rounded to two
// decimal places before hashing so sub-cent noise maps to the same value.
func Fingerprint(name, phone, address string, total decimal.Decimal) string {
	key := strings.Join([]string{
		strings.TrimSpace(name),
		strings.TrimSpace(phone),
		strings.TrimSpace(address),
		total.Round(2).StringFixed(2),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type fingerprintLookup interface {
	ExistsByFingerprintSince(ctx context.Context, fingerprint string, since time.Time) (bool, error)
}

// DuplicateDetector flags resubmissions of identical orders inside a trailing window.
type DuplicateDetector struct {
	store  fingerprintLookup
	window time.Duration
	now    func() time.Time
}

func NewDuplicateDetector(store fingerprintLookup, window time.Duration) *DuplicateDetector {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return &DuplicateDetector{store: store, window: window, now: time.Now}
}

func (d *DuplicateDetector) Since() time.Time {
	return d.now().Add(-d.window)
}

func (d *DuplicateDetector) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	return d.store.ExistsByFingerprintSince(ctx, fingerprint, d.Since())
}

package detector

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// BuildSnapshot captures a bill's tracked fields into an immutable snapshot.
// Values are canonicalized before hashing so that cosmetic source differences
// (full-width digits, compatibility forms, stray whitespace) do not register
// as changes.
func BuildSnapshot(bill *model.Bill, at time.Time) model.BillSnapshot {
	fields := make(map[string]string, len(model.TrackedFields))
	for _, name := range model.TrackedFields {
		raw, ok := bill.Field(name)
		if !ok {
			continue
		}
		fields[name] = Canonicalize(raw)
	}

	return model.BillSnapshot{
		BillID:        bill.ID,
		SnapshotTime:  at.UTC(),
		TrackedFields: fields,
		DataHash:      model.HashFields(fields),
		QualityScore:  snapshotQuality(fields),
	}
}

// Canonicalize normalizes a field value to NFKC, folds full-width ASCII to
// half-width, and collapses surrounding whitespace.
func Canonicalize(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return strings.TrimSpace(s)
}

// snapshotQuality scores field completeness in [0,1]: the fraction of
// tracked fields that carry a value.
func snapshotQuality(fields map[string]string) float64 {
	if len(model.TrackedFields) == 0 {
		return 0
	}
	return float64(len(fields)) / float64(len(model.TrackedFields))
}

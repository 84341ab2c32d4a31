package dedup

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// coordinateGrid is the rounding step for the derived dedup key: three
// decimal places is roughly a 110m cell at the equator, matching the
// default nearby-location radius.
const coordinateGrid = 3

// Key derives the storage-enforced dedup key for a record: a hash over the
// incident type, the UTC calendar date, and the coordinates snapped to the
// rounding grid. Records without coordinates have no key (nil), so the
// unique index never constrains them.
func Key(violationType string, occurredOn time.Time, longitude, latitude *float64) []byte {
	if longitude == nil || latitude == nil {
		return nil
	}

	h := sha256.New()
	fmt.Fprintf(
		h,
		"%s|%s|%.*f|%.*f",
		strings.ToLower(strings.TrimSpace(violationType)),
		occurredOn.UTC().Format("2006-01-02"),
		coordinateGrid, *longitude,
		coordinateGrid, *latitude,
	)
	return h.Sum(nil)
}

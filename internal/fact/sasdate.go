package fact

import (
	"math"
	"time"
)

// sasEpoch is day zero of SAS date serials.
var sasEpoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

// SASDate converts a SAS day serial to a UTC calendar date. Fractional days
// are floored. nil, NaN and infinities yield nil.
func SASDate(serial *float64) *time.Time {
	if serial == nil || math.IsNaN(*serial) || math.IsInf(*serial, 0) {
		return nil
	}
	d := sasEpoch.AddDate(0, 0, int(math.Floor(*serial)))
	return &d
}

func date(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

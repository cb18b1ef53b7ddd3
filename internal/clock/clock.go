// Package clock abstracts time for testable timestamp semantics.
package clock

import "time"

// Clock supplies the current time. Stores and loops take a Clock so tests can
// pin timestamps.
type Clock interface {
	Now() time.Time
}

package dsm

import (
	"errors"
	"strconv"
)

// ErrZoneMismatch aborts a run under ZoneFail when tiles disagree on zone.
var ErrZoneMismatch = errors.New("dsm: tiles declare different UTM zones")

// RunContext carries the canonical UTM zone of a run. It is threaded through
// zone reconciliation by value.
type RunContext struct {
	CanonicalZone string
	Established   bool
}

// ZoneCheck is the outcome of comparing one tile's zone with the run.
type ZoneCheck int

const (
	// ZoneEstablished means the tile set the canonical zone.
	ZoneEstablished ZoneCheck = iota
	ZoneMatch
	ZoneMismatch
	// ZoneUndeclared means the tile header carried no zone comment.
	ZoneUndeclared
	// ZoneMalformed means the zone comment is not <1-60><N|S>. The tile is
	// ingested as if it declared no zone.
	ZoneMalformed
)

func (c ZoneCheck) String() string {
	switch c {
	case ZoneEstablished:
		return "established"
	case ZoneMatch:
		return "match"
	case ZoneMismatch:
		return "mismatch"
	case ZoneUndeclared:
		return "undeclared"
	case ZoneMalformed:
		return "malformed"
	}
	return "unknown"
}

// ValidZone reports whether zone has the UTM shape <1-60><N|S>, e.g. "31N".
func ValidZone(zone string) bool {
	if len(zone) < 2 || len(zone) > 3 {
		return false
	}
	switch zone[len(zone)-1] {
	case 'N', 'n', 'S', 's':
	default:
		return false
	}
	digits := zone[:len(zone)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(digits)
	return err == nil && n >= 1 && n <= 60
}

// EstablishZone folds zone into rc. The first well-formed zone becomes
// canonical; an empty or malformed zone neither establishes nor conflicts.
func EstablishZone(rc RunContext, zone string) (RunContext, ZoneCheck) {
	switch {
	case zone == "":
		return rc, ZoneUndeclared
	case !ValidZone(zone):
		return rc, ZoneMalformed
	case !rc.Established:
		return RunContext{CanonicalZone: zone, Established: true}, ZoneEstablished
	case zone == rc.CanonicalZone:
		return rc, ZoneMatch
	}
	return rc, ZoneMismatch
}

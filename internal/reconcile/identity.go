package reconcile

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"icssync/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

// digest is the 128-bit content hash shared by identifiers and fingerprints.
// The lowercase hex output only uses characters that remote calendars accept
// in client-chosen event ids.
func digest(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// DeriveID returns the stable remote identifier of ev within calendarID.
//
//   - recurring master: calendar | key | "recurring"
//   - override:         calendar | key | begin date
//   - single:           calendar | key | begin date | begin clock time
func DeriveID(calendarID string, ev model.CalendarEvent) string {
	key := ev.IdentityKey()
	switch ev.Class {
	case model.ClassRecurringMaster:
		return MasterID(calendarID, key)
	case model.ClassRecurrenceOverride:
		return digest(calendarID, key, ev.Begin.Format(dateLayout))
	default:
		return digest(calendarID, key, ev.Begin.Format(dateLayout), ev.Begin.Format(clockLayout))
	}
}

// MasterID is the identifier of the recurring master for identityKey. Override
// events reference it as their recurring event id.
func MasterID(calendarID, identityKey string) string {
	return digest(calendarID, identityKey, "recurring")
}

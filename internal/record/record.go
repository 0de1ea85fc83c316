// Package record defines the attendance record model and tap classification rules.
package record

import (
	"fmt"

	"git.home.luguber.info/inful/taptrack/internal/errors"
)

// AttendanceStatus classifies when the tap happened relative to the on-time threshold.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
)

// RegistrationStatus reflects the directory lookup at capture time.
type RegistrationStatus string

const (
	Registered   RegistrationStatus = "registered"
	Unregistered RegistrationStatus = "unregistered"
)

// AttendanceRecord is one captured tap. JSON field names are the device's
// persisted wire format; changing them breaks queue files written by
// earlier firmware.
type AttendanceRecord struct {
	UID                string             `json:"uid"`
	Name               string             `json:"name"`
	Timestamp          string             `json:"timestamp"`
	AttendanceStatus   AttendanceStatus   `json:"attendanceStatus"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	SyncID             string             `json:"syncId"`
	RetryCount         int                `json:"retryCount"`
	QueuedAt           int64              `json:"queuedAt"`
}

// Validate checks the invariants every record must satisfy before it may be queued.
func (r *AttendanceRecord) Validate() error {
	if r.UID == "" {
		return errors.New(errors.CategoryQueue, errors.SeverityError, "record uid must not be empty")
	}
	if r.RetryCount < 0 {
		return errors.New(errors.CategoryQueue, errors.SeverityError, "record retry count cannot be negative")
	}
	return nil
}

// DisplayName returns the name when known, otherwise the UID.
func (r *AttendanceRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.UID
}

// Classify maps an hour-of-day to an attendance status. Strictly before the
// on-time hour is present; at or after is late.
func Classify(hour, onTimeHour int) AttendanceStatus {
	if hour < onTimeHour {
		return StatusPresent
	}
	return StatusLate
}

// ClockReading is a raw timestamp from the clock source, validated by the core
// before any record is created against it.
type ClockReading struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// Validate performs the plausibility check. The year bounds come from device
// config; the rest are calendar ranges. A failed check means the RTC lost
// power or was never set, and no tap may be recorded against it.
func (c ClockReading) Validate(minYear, maxYear int) error {
	if c.Year < minYear || c.Year > maxYear {
		return errors.InvalidClock(c.String())
	}
	if c.Month < 1 || c.Month > 12 {
		return errors.InvalidClock(c.String())
	}
	if c.Day < 1 || c.Day > 31 {
		return errors.InvalidClock(c.String())
	}
	if c.Hour < 0 || c.Hour > 23 {
		return errors.InvalidClock(c.String())
	}
	if c.Minute < 0 || c.Minute > 59 {
		return errors.InvalidClock(c.String())
	}
	if c.Second < 0 || c.Second > 59 {
		return errors.InvalidClock(c.String())
	}
	return nil
}

// String renders the reading in the device timestamp format.
func (c ClockReading) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second)
}

package license

import (
	"fmt"
	"time"

	apperrors "macrotool/internal/errors"
)

// Feature names an automation capability that requires a license
type Feature string

const (
	FeatureRegionWatch   Feature = "region_watch"
	FeatureAutoClick     Feature = "auto_click"
	FeatureAutoSell      Feature = "auto_sell"
	FeatureTimedKeyPress Feature = "timed_key_press"
	FeatureIdleKeyPress  Feature = "idle_key_press"
)

// AllFeatures lists every licensed feature
var AllFeatures = []Feature{
	FeatureRegionWatch,
	FeatureAutoClick,
	FeatureAutoSell,
	FeatureTimedKeyPress,
	FeatureIdleKeyPress,
}

// Entitlement is the outcome of the startup license check. It is immutable
// and passed explicitly to the components it gates.
type Entitlement struct {
	record    *Record
	err       error
	checkedAt time.Time
}

// Entitle returns an entitlement granted by rec
func Entitle(rec *Record, checkedAt time.Time) *Entitlement {
	return newEntitlement(rec, nil, checkedAt)
}

// Deny returns an entitlement refused because of err
func Deny(err error, checkedAt time.Time) *Entitlement {
	return newEntitlement(nil, err, checkedAt)
}

func newEntitlement(rec *Record, err error, checkedAt time.Time) *Entitlement {
	if rec == nil && err == nil {
		err = apperrors.ErrLicenseRequired
	}
	if err != nil {
		rec = nil
	}
	return &Entitlement{record: rec, err: err, checkedAt: checkedAt}
}

// Allowed reports whether automation may run
func (e *Entitlement) Allowed() bool {
	return e != nil && e.record != nil
}

// Record returns the validated license, or nil when denied
func (e *Entitlement) Record() *Record {
	if e == nil {
		return nil
	}
	return e.record
}

// Err returns why the entitlement was denied
func (e *Entitlement) Err() error {
	if e == nil {
		return apperrors.ErrLicenseRequired
	}
	return e.err
}

// Kind returns the failure kind, zero when allowed
func (e *Entitlement) Kind() Kind {
	if e.Allowed() {
		return 0
	}
	return KindOf(e.Err())
}

// CheckedAt returns when the license was validated
func (e *Entitlement) CheckedAt() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.checkedAt
}

// DaysRemaining returns the days left on the license at now, zero when denied
func (e *Entitlement) DaysRemaining(now time.Time) int {
	if !e.Allowed() {
		return 0
	}
	return e.record.DaysRemaining(now)
}

// Features returns the features the entitlement unlocks
func (e *Entitlement) Features() []Feature {
	if !e.Allowed() {
		return nil
	}
	out := make([]Feature, len(AllFeatures))
	copy(out, AllFeatures)
	return out
}

// Require returns nil when feature may run and an error wrapping
// ErrLicenseRequired otherwise
func (e *Entitlement) Require(feature Feature) error {
	if e.Allowed() {
		return nil
	}
	reason := "no license"
	if k := e.Kind(); k != 0 {
		reason = k.String()
	}
	return fmt.Errorf("%s: %w (%s)", feature, apperrors.ErrLicenseRequired, reason)
}

// Status is the JSON view of an entitlement
type Status struct {
	Valid         bool      `json:"valid"`
	State         string    `json:"state"`
	Message       string    `json:"message"`
	IssuedTo      string    `json:"issued_to,omitempty"`
	Expiry        string    `json:"expiry,omitempty"`
	DaysRemaining int       `json:"days_remaining"`
	Features      []Feature `json:"features"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Status summarizes the entitlement at now
func (e *Entitlement) Status(now time.Time) Status {
	s := Status{
		CheckedAt: e.CheckedAt(),
		Features:  e.Features(),
	}
	if s.Features == nil {
		s.Features = []Feature{}
	}

	if e.Allowed() {
		s.Valid = true
		s.State = "active"
		s.Message = "License is valid."
		s.IssuedTo = e.record.IssuedTo
		s.Expiry = e.record.Expiry.Format(DateLayout)
		s.DaysRemaining = e.record.DaysRemaining(now)
		return s
	}

	kind := e.Kind()
	if kind == 0 {
		s.State = "unlicensed"
		s.Message = "No license has been activated."
		return s
	}
	s.State = kind.String()
	s.Message = kind.Message()
	return s
}

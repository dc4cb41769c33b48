package model

import (
	"regexp"
	"time"
)

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

// mrnPattern is the basic format check applied before any lookup:
// 5 to 12 digits, no separators. Lookups are exact-match only.
var mrnPattern = regexp.MustCompile(`^[0-9]{5,12}$`)

// ValidMRN reports whether the MRN passes the format check. It says nothing
// about existence; that is the resolver's job.
func ValidMRN(mrn string) bool {
	return mrnPattern.MatchString(mrn)
}

// Patient is the identity record. The MRN is the external identifier and maps
// one-to-one onto the internal id; the mapping is immutable once created.
// Patients are written by the ingestion pipeline and read-only here.
type Patient struct {
	Base
	MRN         string        `db:"mrn" json:"mrn"`
	Name        string        `db:"name" json:"name"`
	DateOfBirth time.Time     `db:"date_of_birth" json:"date_of_birth"`
	Status      PatientStatus `db:"status" json:"status"`
}

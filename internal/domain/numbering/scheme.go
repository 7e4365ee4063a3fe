package numbering

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onclinic/clinic/internal/platform/store"
)

// Scheme describes one document numbering format: where numbered records
// live, how the scope bucket is derived from the current time, and how
// numbers are parsed and rendered.
type Scheme struct {
	Name       string
	Collection string
	Field      string

	// counters for a scope outlive it by ttl
	ttl      time.Duration
	scopeKey func(t time.Time) string
	parse    func(number string) (scope string, serial int, ok bool)
	format   func(scope string, serial int) string
	include  func(rec store.Record) bool
}

// ScopeKey returns the scope bucket for t.
func (s Scheme) ScopeKey(t time.Time) string { return s.scopeKey(t) }

// Parse splits a stored number into its scope key and serial.
func (s Scheme) Parse(number string) (string, int, bool) { return s.parse(number) }

// Format renders serial within scope.
func (s Scheme) Format(scope string, serial int) string { return s.format(scope, serial) }

// Includes reports whether rec takes part in this scheme's sequence.
func (s Scheme) Includes(rec store.Record) bool {
	if s.include == nil {
		return true
	}
	return s.include(rec)
}

// PatientID numbers patients per calendar year: 2025/0007.
var PatientID = Scheme{
	Name:       "patient_id",
	Collection: store.Patients,
	Field:      "patient_id",
	ttl:        400 * 24 * time.Hour,
	scopeKey:   func(t time.Time) string { return t.Format("2006") },
	parse: func(number string) (string, int, bool) {
		year, serial, found := strings.Cut(number, "/")
		if !found || len(year) != 4 || !isDigits(year) {
			return "", 0, false
		}
		n, ok := parseSerial(serial)
		return year, n, ok
	},
	format: func(scope string, serial int) string {
		return fmt.Sprintf("%s/%04d", scope, serial)
	},
}

// PrescriptionSerial numbers prescriptions per calendar day: 250615003.
var PrescriptionSerial = Scheme{
	Name:       "prescription_serial",
	Collection: store.Prescriptions,
	Field:      "serial_number",
	ttl:        48 * time.Hour,
	scopeKey:   func(t time.Time) string { return t.Format("060102") },
	parse: func(number string) (string, int, bool) {
		if len(number) < 7 || !isDigits(number[:6]) {
			return "", 0, false
		}
		n, ok := parseSerial(number[6:])
		return number[:6], n, ok
	},
	format: func(scope string, serial int) string {
		return fmt.Sprintf("%s%03d", scope, serial)
	},
}

// ClinicBill numbers services bills per calendar day: ON-250615-0001.
var ClinicBill = Scheme{
	Name:       "clinic_bill",
	Collection: store.Bills,
	Field:      "bill_number",
	ttl:        48 * time.Hour,
	scopeKey:   func(t time.Time) string { return t.Format("060102") },
	parse:      billParser("ON"),
	format: func(scope string, serial int) string {
		return fmt.Sprintf("ON-%s-%04d", scope, serial)
	},
	include: func(rec store.Record) bool { return rec.String("bill_type") != "pharmacy" },
}

// PharmacyBill numbers pharmacy bills per calendar day. The date part is
// year, day, month: ONP-251506-0001 is the first bill of 15 June 2025.
var PharmacyBill = Scheme{
	Name:       "pharmacy_bill",
	Collection: store.Bills,
	Field:      "bill_number",
	ttl:        48 * time.Hour,
	scopeKey:   func(t time.Time) string { return t.Format("060201") },
	parse:      billParser("ONP"),
	format: func(scope string, serial int) string {
		return fmt.Sprintf("ONP-%s-%04d", scope, serial)
	},
	include: func(rec store.Record) bool { return rec.String("bill_type") == "pharmacy" },
}

// Schemes lists every scheme by name.
var Schemes = map[string]Scheme{
	PatientID.Name:          PatientID,
	PrescriptionSerial.Name: PrescriptionSerial,
	ClinicBill.Name:         ClinicBill,
	PharmacyBill.Name:       PharmacyBill,
}

func billParser(prefix string) func(string) (string, int, bool) {
	return func(number string) (string, int, bool) {
		parts := strings.Split(number, "-")
		if len(parts) != 3 || parts[0] != prefix || len(parts[1]) != 6 || !isDigits(parts[1]) {
			return "", 0, false
		}
		n, ok := parseSerial(parts[2])
		return parts[1], n, ok
	}
}

func parseSerial(s string) (int, bool) {
	if !isDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

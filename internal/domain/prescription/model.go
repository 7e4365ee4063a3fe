package prescription

import (
	"time"

	"github.com/google/uuid"
)

const (
	VisitWalkIn      = "walk-in"
	VisitAppointment = "appointment"
)

var validVisitTypes = map[string]bool{VisitWalkIn: true, VisitAppointment: true}

// Prescription maps to the prescriptions collection. SerialNumber restarts
// every clinic day (250615003 is the third prescription of 15 June 2025).
type Prescription struct {
	ID             uuid.UUID  `json:"id"`
	SerialNumber   string     `json:"serial_number"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	VisitType      string     `json:"visit_type"`
	ChiefComplaint *string    `json:"chief_complaint"`
	Vitals         *string    `json:"vitals"`
	Diagnosis      *string    `json:"diagnosis"`
	Medications    *string    `json:"medications"`
	Investigations *string    `json:"investigations"`
	Advice         *string    `json:"advice"`
	FollowUpDate   *time.Time `json:"follow_up_date"`
	CreatedBy      *string    `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	VisitType string
	From      time.Time
	To        time.Time
}

package staff

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Doctor maps to the doctors collection.
type Doctor struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Specialization  string          `json:"specialization"`
	Qualification   *string         `json:"qualification"`
	Phone           *string         `json:"phone"`
	Email           *string         `json:"email"`
	ConsultationFee decimal.Decimal `json:"consultation_fee"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

type DoctorUpdate struct {
	Name            *string          `json:"name"`
	Specialization  *string          `json:"specialization"`
	Qualification   *string          `json:"qualification"`
	Phone           *string          `json:"phone"`
	Email           *string          `json:"email"`
	ConsultationFee *decimal.Decimal `json:"consultation_fee"`
	Active          *bool            `json:"active"`
}

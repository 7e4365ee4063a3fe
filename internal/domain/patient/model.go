package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients collection. PatientID is the human-readable
// registration number (2025/0007) and never changes once assigned.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   string     `json:"patient_id"`
	Name        string     `json:"name"`
	Gender      *string    `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Age         *int       `json:"age"`
	Phone       *string    `json:"phone"`
	Email       *string    `json:"email"`
	Address     *string    `json:"address"`
	BloodGroup  *string    `json:"blood_group"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Update struct {
	Name        *string    `json:"name"`
	Gender      *string    `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Age         *int       `json:"age"`
	Phone       *string    `json:"phone"`
	Email       *string    `json:"email"`
	Address     *string    `json:"address"`
	BloodGroup  *string    `json:"blood_group"`

	PatientID *string `json:"patient_id"`
}

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

// Package staff keeps the doctor directory used by bills, prescriptions and
// doctor reports.
package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/store"
)

type Service struct {
	store  store.Store
	logger zerolog.Logger
}

func NewService(st store.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// CreateDoctor stores a new, active doctor.
func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Validation("name", "name is required")
	}
	if d.ConsultationFee.IsNegative() {
		return apperr.Validation("consultation_fee", "consultation_fee must not be negative")
	}
	d.ID = uuid.Nil
	d.Active = true

	rec, err := store.Encode(d)
	if err != nil {
		return err
	}
	delete(rec, "created_at")
	saved, err := s.store.Insert(ctx, store.Doctors, rec)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	if err := store.Decode(saved, d); err != nil {
		return err
	}
	s.logger.Info().Str("id", d.ID.String()).Str("name", d.Name).Msg("doctor created")
	return nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	rec, err := store.Get(ctx, s.store, store.Doctors, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("doctor", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	var d Doctor
	if err := store.Decode(rec, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDoctors returns the directory, optionally only active doctors.
func (s *Service) ListDoctors(ctx context.Context, activeOnly bool) ([]*Doctor, error) {
	var filter store.Filter
	if activeOnly {
		filter = store.Filter{"active": true}
	}
	recs, err := s.store.List(ctx, store.Doctors, filter)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return store.DecodeAll[Doctor](recs)
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, u DoctorUpdate) (*Doctor, error) {
	fields := store.Record{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.Validation("name", "name is required")
		}
		fields["name"] = name
	}
	if u.Specialization != nil {
		fields["specialization"] = *u.Specialization
	}
	if u.Qualification != nil {
		fields["qualification"] = *u.Qualification
	}
	if u.Phone != nil {
		fields["phone"] = *u.Phone
	}
	if u.Email != nil {
		fields["email"] = *u.Email
	}
	if u.ConsultationFee != nil {
		if u.ConsultationFee.IsNegative() {
			return nil, apperr.Validation("consultation_fee", "consultation_fee must not be negative")
		}
		fields["consultation_fee"] = u.ConsultationFee.String()
	}
	if u.Active != nil {
		fields["active"] = *u.Active
	}
	if len(fields) == 0 {
		return s.GetDoctor(ctx, id)
	}

	rec, err := s.store.Update(ctx, store.Doctors, id.String(), fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("doctor", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("update doctor: %w", err)
	}
	var d Doctor
	if err := store.Decode(rec, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

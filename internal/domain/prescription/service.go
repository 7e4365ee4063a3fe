// Package prescription records prescriptions under per-day serial numbers.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/domain/numbering"
	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/store"
)

type Service struct {
	store   store.Store
	numbers *numbering.Generator
	logger  zerolog.Logger
}

func NewService(st store.Store, numbers *numbering.Generator, logger zerolog.Logger) *Service {
	return &Service{store: st, numbers: numbers, logger: logger}
}

// Create validates p, checks that its patient and doctor exist and stores it
// under the next serial number of the day.
func (s *Service) Create(ctx context.Context, p *Prescription, actor string) error {
	if p.PatientID == uuid.Nil {
		return apperr.Validation("patient_id", "patient_id is required")
	}
	if p.DoctorID == uuid.Nil {
		return apperr.Validation("doctor_id", "doctor_id is required")
	}
	p.VisitType = strings.ToLower(strings.TrimSpace(p.VisitType))
	if p.VisitType == "" {
		p.VisitType = VisitWalkIn
	}
	if !validVisitTypes[p.VisitType] {
		return apperr.Validation("visit_type", fmt.Sprintf("invalid visit_type: %s", p.VisitType))
	}
	if err := s.exists(ctx, store.Patients, "patient", p.PatientID); err != nil {
		return err
	}
	if err := s.exists(ctx, store.Doctors, "doctor", p.DoctorID); err != nil {
		return err
	}
	p.ID = uuid.Nil
	p.CreatedAt = time.Time{}
	p.CreatedBy = nil
	if actor != "" {
		p.CreatedBy = &actor
	}

	_, err := s.numbers.Assign(ctx, numbering.PrescriptionSerial, func(ctx context.Context, number string) error {
		p.SerialNumber = number
		rec, err := store.Encode(p)
		if err != nil {
			return err
		}
		saved, err := s.store.Insert(ctx, store.Prescriptions, rec)
		if err != nil {
			return fmt.Errorf("insert prescription: %w", err)
		}
		return store.Decode(saved, p)
	})
	if errors.Is(err, store.ErrConflict) {
		return apperr.Conflict("could not allocate a unique prescription serial")
	}
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("id", p.ID.String()).
		Str("serial_number", p.SerialNumber).
		Str("visit_type", p.VisitType).
		Msg("prescription created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	rec, err := store.Get(ctx, s.store, store.Prescriptions, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("prescription", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	var p Prescription
	if err := store.Decode(rec, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns matching prescriptions in creation order.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Prescription, error) {
	filter := store.Filter{}
	if f.PatientID != nil {
		filter["patient_id"] = f.PatientID.String()
	}
	if f.DoctorID != nil {
		filter["doctor_id"] = f.DoctorID.String()
	}
	if f.VisitType != "" {
		filter["visit_type"] = f.VisitType
	}
	recs, err := s.store.List(ctx, store.Prescriptions, filter)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	all, err := store.DecodeAll[Prescription](recs)
	if err != nil {
		return nil, err
	}
	out := make([]*Prescription, 0, len(all))
	for _, p := range all {
		if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && p.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) exists(ctx context.Context, collection, resource string, id uuid.UUID) error {
	_, err := store.Get(ctx, s.store, collection, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(resource, id.String())
	}
	return err
}

// Package patient registers patients under yearly registration numbers.
package patient

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

// Register validates p and stores it under the next patient id of the year.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("name", "name is required")
	}
	if err := validate(p.Gender, p.Age); err != nil {
		return err
	}
	p.ID = uuid.Nil
	p.CreatedAt = time.Time{}

	_, err := s.numbers.Assign(ctx, numbering.PatientID, func(ctx context.Context, number string) error {
		p.PatientID = number
		rec, err := store.Encode(p)
		if err != nil {
			return err
		}
		saved, err := s.store.Insert(ctx, store.Patients, rec)
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
		return store.Decode(saved, p)
	})
	if errors.Is(err, store.ErrConflict) {
		return apperr.Conflict("could not allocate a unique patient id")
	}
	if err != nil {
		return err
	}
	s.logger.Info().Str("id", p.ID.String()).Str("patient_id", p.PatientID).Msg("patient registered")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	rec, err := store.Get(ctx, s.store, store.Patients, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	var p Patient
	if err := store.Decode(rec, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns patients, oldest registration first. A non-empty query keeps
// patients whose name, phone or patient id contains it, ignoring case.
func (s *Service) List(ctx context.Context, query string) ([]*Patient, error) {
	recs, err := s.store.List(ctx, store.Patients, nil)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	all, err := store.DecodeAll[Patient](recs)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all, nil
	}
	out := make([]*Patient, 0)
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), query) ||
			strings.Contains(strings.ToLower(p.PatientID), query) ||
			(p.Phone != nil && strings.Contains(*p.Phone, query)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, u Update) (*Patient, error) {
	if u.PatientID != nil {
		return nil, apperr.Validation("patient_id", "patient_id cannot be changed")
	}
	if err := validate(u.Gender, u.Age); err != nil {
		return nil, err
	}
	fields := store.Record{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.Validation("name", "name is required")
		}
		fields["name"] = name
	}
	for key, v := range map[string]*string{
		"gender": u.Gender, "phone": u.Phone, "email": u.Email, "address": u.Address, "blood_group": u.BloodGroup,
	} {
		if v != nil {
			fields[key] = strings.TrimSpace(*v)
		}
	}
	if u.Age != nil {
		fields["age"] = *u.Age
	}
	if u.DateOfBirth != nil {
		fields["date_of_birth"] = u.DateOfBirth.UTC().Format(time.RFC3339)
	}
	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	rec, err := s.store.Update(ctx, store.Patients, id.String(), fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	var p Patient
	if err := store.Decode(rec, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validate(gender *string, age *int) error {
	if gender != nil && *gender != "" && !validGenders[strings.ToLower(*gender)] {
		return apperr.Validation("gender", fmt.Sprintf("invalid gender: %s", *gender))
	}
	if age != nil && (*age < 0 || *age > 150) {
		return apperr.Validation("age", "age must be between 0 and 150")
	}
	return nil
}

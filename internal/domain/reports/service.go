package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/domain/billing"
	"github.com/onclinic/clinic/internal/domain/prescription"
	"github.com/onclinic/clinic/internal/domain/staff"
	"github.com/onclinic/clinic/internal/platform/store"
)

// Range is an inclusive time window.
type Range struct {
	Start time.Time
	End   time.Time
}

// DayRange expands two calendar days to [first instant of from, last instant
// of to] in loc.
func DayRange(from, to time.Time, loc *time.Location) Range {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return Range{Start: start, End: end}
}

type SalesReport struct {
	Rows  []SummaryRow `json:"rows"`
	Total SummaryRow   `json:"total"`
}

// Service loads records from the store and feeds them to the aggregators.
type Service struct {
	store  store.Store
	logger zerolog.Logger
}

func NewService(st store.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

func (s *Service) Sales(ctx context.Context, r Range, groupBy GroupBy, billType string) (*SalesReport, error) {
	bills, err := s.bills(ctx, billType)
	if err != nil {
		return nil, err
	}
	rows := SalesSummary(bills, r.Start, r.End, groupBy)
	return &SalesReport{Rows: rows, Total: totals(rows)}, nil
}

func (s *Service) Doctors(ctx context.Context, r Range) ([]DoctorRow, error) {
	bills, err := s.bills(ctx, "")
	if err != nil {
		return nil, err
	}
	doctors, err := load[staff.Doctor](ctx, s.store, store.Doctors)
	if err != nil {
		return nil, err
	}
	return DoctorSalesReport(bills, doctors, r.Start, r.End), nil
}

func (s *Service) Services(ctx context.Context, r Range) ([]ServiceRow, error) {
	bills, err := s.bills(ctx, billing.TypeServices)
	if err != nil {
		return nil, err
	}
	items, err := load[billing.BillItem](ctx, s.store, store.BillItems)
	if err != nil {
		return nil, err
	}
	services, err := load[billing.ClinicService](ctx, s.store, store.Services)
	if err != nil {
		return nil, err
	}
	return ServiceSalesReport(bills, items, services, r.Start, r.End), nil
}

func (s *Service) Items(ctx context.Context, r Range) ([]ServiceRow, error) {
	bills, err := s.bills(ctx, billing.TypePharmacy)
	if err != nil {
		return nil, err
	}
	items, err := load[billing.BillItem](ctx, s.store, store.BillItems)
	if err != nil {
		return nil, err
	}
	return ItemSalesReport(bills, items, r.Start, r.End), nil
}

func (s *Service) TopDoctors(ctx context.Context, r Range, limit int) ([]DoctorRow, error) {
	rows, err := s.Doctors(ctx, r)
	if err != nil {
		return nil, err
	}
	return TopDoctors(rows, limit), nil
}

func (s *Service) TopServices(ctx context.Context, r Range, limit int, by Metric) ([]ServiceRow, error) {
	rows, err := s.Services(ctx, r)
	if err != nil {
		return nil, err
	}
	return TopServices(rows, limit, by), nil
}

func (s *Service) VisitTypes(ctx context.Context, r Range) ([]VisitTypeRow, error) {
	rx, err := load[prescription.Prescription](ctx, s.store, store.Prescriptions)
	if err != nil {
		return nil, err
	}
	return VisitTypeReport(rx, r.Start, r.End), nil
}

func (s *Service) bills(ctx context.Context, billType string) ([]*billing.Bill, error) {
	var filter store.Filter
	if billType != "" {
		filter = store.Filter{"bill_type": billType}
	}
	recs, err := s.store.List(ctx, store.Bills, filter)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	return store.DecodeAll[billing.Bill](recs)
}

func load[T any](ctx context.Context, st store.Store, collection string) ([]*T, error) {
	recs, err := st.List(ctx, collection, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return store.DecodeAll[T](recs)
}

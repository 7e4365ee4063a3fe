package reports

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupBy selects the bucket of a sales summary row.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByMonth GroupBy = "month"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case "", GroupByDay:
		return GroupByDay, nil
	case GroupByMonth:
		return GroupByMonth, nil
	}
	return "", fmt.Errorf("invalid group_by %q", s)
}

func (g GroupBy) layout() string {
	if g == GroupByMonth {
		return "2006-01"
	}
	return "2006-01-02"
}

// Metric ranks service rows.
type Metric string

const (
	ByRevenue Metric = "revenue"
	ByUsage   Metric = "usage"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", ByRevenue:
		return ByRevenue, nil
	case ByUsage:
		return ByUsage, nil
	}
	return "", fmt.Errorf("invalid metric %q", s)
}

type SummaryRow struct {
	Date          string          `json:"date"`
	TotalBills    int             `json:"total_bills"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
}

type DoctorRow struct {
	DoctorID       uuid.UUID       `json:"doctor_id"`
	DoctorName     string          `json:"doctor_name"`
	Specialization string          `json:"specialization"`
	TotalBills     int             `json:"total_bills"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalDiscount  decimal.Decimal `json:"total_discount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
}

// ServiceRow aggregates bill lines sharing a name. Category is empty when
// no catalog entry carries that name any more.
type ServiceRow struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Usage    int             `json:"usage"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type VisitTypeRow struct {
	VisitType string `json:"visit_type"`
	Count     int    `json:"count"`
}

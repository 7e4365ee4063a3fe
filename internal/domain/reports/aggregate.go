// Package reports aggregates bills, bill lines and prescriptions into
// summary rows. The aggregation functions are pure: they never mutate their
// inputs and never perform I/O.
package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/onclinic/clinic/internal/domain/billing"
	"github.com/onclinic/clinic/internal/domain/prescription"
	"github.com/onclinic/clinic/internal/domain/staff"
)

const unknownDoctor = "Unknown"

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// SalesSummary groups bills created within [start, end] by day or month of
// created_at, rendered in start's location, and returns rows ascending by
// date.
func SalesSummary(bills []*billing.Bill, start, end time.Time, groupBy GroupBy) []SummaryRow {
	loc := start.Location()
	index := make(map[string]int)
	rows := make([]SummaryRow, 0)
	for _, b := range bills {
		if !within(b.CreatedAt, start, end) {
			continue
		}
		key := b.CreatedAt.In(loc).Format(groupBy.layout())
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, SummaryRow{Date: key})
		}
		r := &rows[i]
		r.TotalBills++
		r.TotalAmount = r.TotalAmount.Add(b.TotalAmount)
		r.TotalDiscount = r.TotalDiscount.Add(b.Discount)
		r.NetAmount = r.NetAmount.Add(b.NetAmount)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

// DoctorSalesReport totals bills per referring doctor. Rows follow the order
// in which each doctor first appears among the bills. Bills without a doctor
// are skipped.
func DoctorSalesReport(bills []*billing.Bill, doctors []*staff.Doctor, start, end time.Time) []DoctorRow {
	byID := make(map[uuid.UUID]*staff.Doctor, len(doctors))
	for _, d := range doctors {
		byID[d.ID] = d
	}
	index := make(map[uuid.UUID]int)
	rows := make([]DoctorRow, 0)
	for _, b := range bills {
		if b.DoctorID == nil || !within(b.CreatedAt, start, end) {
			continue
		}
		i, ok := index[*b.DoctorID]
		if !ok {
			row := DoctorRow{DoctorID: *b.DoctorID, DoctorName: unknownDoctor}
			if d, found := byID[*b.DoctorID]; found {
				row.DoctorName = d.Name
				row.Specialization = d.Specialization
			}
			i = len(rows)
			index[*b.DoctorID] = i
			rows = append(rows, row)
		}
		r := &rows[i]
		r.TotalBills++
		r.TotalAmount = r.TotalAmount.Add(b.TotalAmount)
		r.TotalDiscount = r.TotalDiscount.Add(b.Discount)
		r.NetAmount = r.NetAmount.Add(b.NetAmount)
	}
	return rows
}

// ServiceSalesReport totals service lines of bills created within
// [start, end] by the service name frozen on the line, and looks the
// category up in the catalog by that name. Rows follow first appearance.
func ServiceSalesReport(bills []*billing.Bill, items []*billing.BillItem, services []*billing.ClinicService, start, end time.Time) []ServiceRow {
	categories := make(map[string]string, len(services))
	for _, s := range services {
		categories[s.Name] = s.Category
	}
	return lineReport(bills, items, start, end, func(it *billing.BillItem) (string, bool) {
		if it.ServiceName == nil {
			return "", false
		}
		return *it.ServiceName, true
	}, categories)
}

// ItemSalesReport is ServiceSalesReport for pharmacy lines, keyed by the
// frozen item name.
func ItemSalesReport(bills []*billing.Bill, items []*billing.BillItem, start, end time.Time) []ServiceRow {
	return lineReport(bills, items, start, end, func(it *billing.BillItem) (string, bool) {
		if it.ItemName == nil {
			return "", false
		}
		return *it.ItemName, true
	}, nil)
}

func lineReport(bills []*billing.Bill, items []*billing.BillItem, start, end time.Time, name func(*billing.BillItem) (string, bool), categories map[string]string) []ServiceRow {
	inRange := make(map[uuid.UUID]bool, len(bills))
	for _, b := range bills {
		if within(b.CreatedAt, start, end) {
			inRange[b.ID] = true
		}
	}
	index := make(map[string]int)
	rows := make([]ServiceRow, 0)
	for _, it := range items {
		if !inRange[it.BillID] {
			continue
		}
		n, ok := name(it)
		if !ok {
			continue
		}
		i, seen := index[n]
		if !seen {
			i = len(rows)
			index[n] = i
			rows = append(rows, ServiceRow{Name: n, Category: categories[n]})
		}
		rows[i].Usage += it.Quantity
		rows[i].Revenue = rows[i].Revenue.Add(it.Total)
	}
	return rows
}

// TopDoctors returns up to limit rows ranked by net amount, descending.
// Ties keep their input order. A limit <= 0 keeps every row.
func TopDoctors(rows []DoctorRow, limit int) []DoctorRow {
	out := append([]DoctorRow(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetAmount.GreaterThan(out[j].NetAmount)
	})
	return truncate(out, limit)
}

// TopServices returns up to limit rows ranked by revenue or usage,
// descending. Ties keep their input order.
func TopServices(rows []ServiceRow, limit int, by Metric) []ServiceRow {
	out := append([]ServiceRow(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if by == ByUsage {
			return out[i].Usage > out[j].Usage
		}
		return out[i].Revenue.GreaterThan(out[j].Revenue)
	})
	return truncate(out, limit)
}

func truncate[T any](rows []T, limit int) []T {
	if rows == nil {
		rows = make([]T, 0)
	}
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// VisitTypeReport counts prescriptions created within [start, end] per visit
// type. Walk-in and appointment rows are always present, in that order;
// any other stored type follows alphabetically.
func VisitTypeReport(prescriptions []*prescription.Prescription, start, end time.Time) []VisitTypeRow {
	counts := map[string]int{prescription.VisitWalkIn: 0, prescription.VisitAppointment: 0}
	for _, p := range prescriptions {
		if within(p.CreatedAt, start, end) {
			counts[p.VisitType]++
		}
	}
	rows := []VisitTypeRow{
		{VisitType: prescription.VisitWalkIn, Count: counts[prescription.VisitWalkIn]},
		{VisitType: prescription.VisitAppointment, Count: counts[prescription.VisitAppointment]},
	}
	delete(counts, prescription.VisitWalkIn)
	delete(counts, prescription.VisitAppointment)
	others := make([]string, 0, len(counts))
	for k := range counts {
		others = append(others, k)
	}
	sort.Strings(others)
	for _, k := range others {
		rows = append(rows, VisitTypeRow{VisitType: k, Count: counts[k]})
	}
	return rows
}

// totals sums rows into a single "total" row.
func totals(rows []SummaryRow) SummaryRow {
	var t SummaryRow
	t.Date = "total"
	for _, r := range rows {
		t.TotalBills += r.TotalBills
		t.TotalAmount = t.TotalAmount.Add(r.TotalAmount)
		t.TotalDiscount = t.TotalDiscount.Add(r.TotalDiscount)
		t.NetAmount = t.NetAmount.Add(r.NetAmount)
	}
	return t
}

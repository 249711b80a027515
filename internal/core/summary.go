package core

import (
	"sort"
	"time"
)

// CategoryShare is one category's slice of the period expense total.
// Percentage is expense-based and 0 when the period has no expenses.
type CategoryShare struct {
	Name       string
	Amount     Money
	Percentage float64
}

// PeriodSummary is a compact summary of a bounded date range.
type PeriodSummary struct {
	From       time.Time
	To         time.Time
	Income     Money
	Expense    Money
	Balance    Money
	Categories []CategoryShare
}

// TrendPoint holds one day's income/expense sums for trend charts.
type TrendPoint struct {
	Date    time.Time
	Income  Money
	Expense Money
}

// Summarize folds bills whose Time falls within [from, to] (bounds
// inclusive) into totals and a per-category expense breakdown. It is total:
// empty input yields zero sums and an empty category list.
func Summarize(bills []Bill, from, to time.Time) PeriodSummary {
	s := PeriodSummary{From: from, To: to}

	byCategory := make(map[string]int64)
	for _, b := range bills {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}
		switch b.Type {
		case Income:
			s.Income.Cents += b.Amount.Cents
		case Expense:
			s.Expense.Cents += b.Amount.Cents
			byCategory[b.Category] += b.Amount.Cents
		}
	}
	s.Balance = s.Income.Sub(s.Expense)

	for name, cents := range byCategory {
		share := CategoryShare{Name: name, Amount: Money{Cents: cents}}
		if s.Expense.Cents > 0 {
			share.Percentage = float64(cents) / float64(s.Expense.Cents) * 100
		}
		s.Categories = append(s.Categories, share)
	}
	// Largest first, name as the stable tie-break.
	sort.Slice(s.Categories, func(i, j int) bool {
		if s.Categories[i].Amount.Cents != s.Categories[j].Amount.Cents {
			return s.Categories[i].Amount.Cents > s.Categories[j].Amount.Cents
		}
		return s.Categories[i].Name < s.Categories[j].Name
	})

	return s
}

// Trend computes per-day income/expense sums for the trailing window of
// `days` days ending at `now`, ordered oldest to newest. Each day spans
// [00:00:00, 23:59:59.999999999] in now's location.
func Trend(bills []Bill, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		return nil
	}
	points := make([]TrendPoint, days)
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, i-days+1)
		start := DayStart(day)
		end := DayEnd(day)
		p := TrendPoint{Date: start}
		for _, b := range bills {
			if b.Time.Before(start) || b.Time.After(end) {
				continue
			}
			switch b.Type {
			case Income:
				p.Income.Cents += b.Amount.Cents
			case Expense:
				p.Expense.Cents += b.Amount.Cents
			}
		}
		points[i] = p
	}
	return points
}

// DayStart returns midnight of t's calendar day in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayEnd returns the last representable instant of t's calendar day.
func DayEnd(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// MonthRange returns inclusive bounds for the given calendar month.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return from, to
}

// WeekRange returns inclusive bounds for the Monday-based week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday closes the week
	}
	from := DayStart(t).AddDate(0, 0, 1-weekday)
	to := from.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return from, to
}

// YearRange returns inclusive bounds for the given calendar year.
func YearRange(year int, loc *time.Location) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(1, 0, 0).Add(-time.Nanosecond)
	return from, to
}

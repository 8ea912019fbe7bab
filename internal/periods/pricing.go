package periods

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/studentrooms/booking-backend/internal/models"
)

var (
	ErrMalformedYear   = errors.New("academic year must be formatted as YYYY/YYYY")
	ErrUnknownSemester = errors.New("unknown period label")
)

var academicYearRegex = regexp.MustCompile(`^\d{4}/\d{4}$`)

// ValidateAcademicYear checks the "YYYY/YYYY" shape
func ValidateAcademicYear(year string) error {
	if !academicYearRegex.MatchString(year) {
		return fmt.Errorf("%w: %q", ErrMalformedYear, year)
	}
	return nil
}

// Price returns the listed price of a period for a room. Semester prices are
// the monthly rate billed each month, not a total.
func Price(room *models.Room, semester models.Semester) (float64, error) {
	switch semester {
	case models.SemesterFull:
		return room.WinterPrice + room.SummerPrice, nil
	case models.SemesterBoth, models.SemesterFirst, models.SemesterSecond:
		return room.WinterPrice, nil
	case models.SemesterJuly, models.SemesterAugust:
		return room.SummerPrice, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSemester, semester)
}

// Deadline returns the last day a period can be newly booked. ok is false for
// labels without a cutoff.
func Deadline(semester models.Semester, year string) (cutoff time.Time, ok bool, err error) {
	if err := ValidateAcademicYear(year); err != nil {
		return time.Time{}, false, err
	}
	endYear, err := strconv.Atoi(year[5:])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrMalformedYear, year)
	}

	switch semester {
	case models.SemesterFirst:
		return time.Date(endYear, time.January, 31, 0, 0, 0, 0, time.UTC), true, nil
	case models.SemesterSecond:
		return time.Date(endYear, time.June, 30, 0, 0, 0, 0, time.UTC), true, nil
	case models.SemesterJuly:
		return lastDayOfMonth(endYear, time.July), true, nil
	case models.SemesterAugust:
		return lastDayOfMonth(endYear, time.August), true, nil
	}
	return time.Time{}, false, nil
}

// IsBookable reports whether now is on or before the period's cutoff day
func IsBookable(semester models.Semester, year string, now time.Time) (bool, error) {
	cutoff, ok, err := Deadline(semester, year)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.UTC().Before(cutoff.AddDate(0, 0, 1)), nil
}

func lastDayOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// ============================================================================
// PAYMENT SCHEDULE
// ============================================================================

// AllowedMonths returns the month names a recurring invoice may settle for a
// period. Summer months are paid once and have no schedule.
func AllowedMonths(semester models.Semester) []time.Month {
	first := []time.Month{time.September, time.October, time.November, time.December}
	second := []time.Month{time.February, time.March, time.April, time.May}

	switch semester {
	case models.SemesterFirst:
		return first
	case models.SemesterSecond:
		return second
	case models.SemesterBoth, models.SemesterFull:
		return append(append([]time.Month{}, first...), second...)
	}
	return nil
}

// BillingMonth resolves the month an invoice settles, shifting the billing
// period start by the rail's reporting lag, and reports whether it falls in
// the semester's schedule.
func BillingMonth(semester models.Semester, periodStart time.Time, lag time.Duration) (string, bool) {
	month := periodStart.UTC().Add(lag).Month()
	for _, allowed := range AllowedMonths(semester) {
		if allowed == month {
			return month.String(), true
		}
	}
	return month.String(), false
}

// InstallmentCount is the number of monthly charges a semester subscription runs for
func InstallmentCount(semester models.Semester) int {
	return len(AllowedMonths(semester))
}

// BillingBlock is a run of consecutive billed months. Start and End are the
// first days of the first and last month.
type BillingBlock struct {
	Start time.Time
	End   time.Time
}

// Months is the number of monthly charges in the block
func (b BillingBlock) Months() int {
	return (b.End.Year()-b.Start.Year())*12 + int(b.End.Month()-b.Start.Month()) + 1
}

// BillingBlocks returns the dated monthly runs of a semester in an academic
// year: September to December of the start year and February to May of the
// end year. Summer months have none.
func BillingBlocks(semester models.Semester, year string) ([]BillingBlock, error) {
	if err := ValidateAcademicYear(year); err != nil {
		return nil, err
	}
	startYear, _ := strconv.Atoi(year[:4])
	endYear, _ := strconv.Atoi(year[5:])

	first := BillingBlock{
		Start: time.Date(startYear, time.September, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(startYear, time.December, 1, 0, 0, 0, 0, time.UTC),
	}
	second := BillingBlock{
		Start: time.Date(endYear, time.February, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(endYear, time.May, 1, 0, 0, 0, 0, time.UTC),
	}

	switch semester {
	case models.SemesterFirst:
		return []BillingBlock{first}, nil
	case models.SemesterSecond:
		return []BillingBlock{second}, nil
	case models.SemesterBoth, models.SemesterFull:
		return []BillingBlock{first, second}, nil
	}
	return nil, nil
}

// Package periods holds the pure rules for booking periods: which claims on a
// room overlap, what a period costs and until when it can be booked.
package periods

import (
	"fmt"
	"sort"
	"strings"

	"github.com/studentrooms/booking-backend/internal/models"
)

// Conflict is one overlap found between claims of the same academic year
type Conflict struct {
	Year          string
	Semester      models.Semester
	ConflictsWith []models.Semester
}

// Error renders the conflict for display
func (c Conflict) Error() string {
	names := make([]string, len(c.ConflictsWith))
	for i, s := range c.ConflictsWith {
		names[i] = fmt.Sprintf("%q", string(s))
	}
	return fmt.Sprintf("%q conflicts with %s in %s", string(c.Semester), strings.Join(names, ", "), c.Year)
}

// yearState is the running state of one academic year
type yearState struct {
	fullYear      bool
	bothSemesters bool
	seen          map[models.Semester]bool
}

// Validate checks every claim against the ones before it, year by year, and
// returns all conflicts found. An empty result means the set is valid.
//
// Full Year overlaps everything in its year. Both Semesters overlaps Full Year,
// itself and the two individual semesters. An individual semester, July and
// August each overlap Full Year and their own duplicate; the semesters also
// overlap Both Semesters. Labels outside the vocabulary are ignored.
func Validate(claims []models.PeriodClaim) []Conflict {
	states := make(map[string]*yearState)
	var conflicts []Conflict

	for _, claim := range claims {
		if !claim.Semester.IsValid() {
			continue
		}

		st, ok := states[claim.Year]
		if !ok {
			st = &yearState{seen: make(map[models.Semester]bool)}
			states[claim.Year] = st
		}

		if with := st.check(claim.Semester); len(with) > 0 {
			conflicts = append(conflicts, Conflict{
				Year:          claim.Year,
				Semester:      claim.Semester,
				ConflictsWith: with,
			})
		}
		st.record(claim.Semester)
	}

	return conflicts
}

// check returns the labels already claimed that overlap s
func (st *yearState) check(s models.Semester) []models.Semester {
	var with []models.Semester

	switch s {
	case models.SemesterFull:
		if st.fullYear {
			with = append(with, models.SemesterFull)
		}
		if st.bothSemesters {
			with = append(with, models.SemesterBoth)
		}
		with = append(with, st.seenLabels()...)

	case models.SemesterBoth:
		if st.fullYear {
			with = append(with, models.SemesterFull)
		}
		if st.bothSemesters {
			with = append(with, models.SemesterBoth)
		}
		for _, single := range []models.Semester{models.SemesterFirst, models.SemesterSecond} {
			if st.seen[single] {
				with = append(with, single)
			}
		}

	case models.SemesterFirst, models.SemesterSecond:
		if st.fullYear {
			with = append(with, models.SemesterFull)
		}
		if st.bothSemesters {
			with = append(with, models.SemesterBoth)
		}
		if st.seen[s] {
			with = append(with, s)
		}

	case models.SemesterJuly, models.SemesterAugust:
		if st.fullYear {
			with = append(with, models.SemesterFull)
		}
		if st.seen[s] {
			with = append(with, s)
		}
	}

	return with
}

func (st *yearState) record(s models.Semester) {
	switch s {
	case models.SemesterFull:
		st.fullYear = true
	case models.SemesterBoth:
		st.bothSemesters = true
	default:
		st.seen[s] = true
	}
}

// seenLabels returns the individually seen labels in vocabulary order
func (st *yearState) seenLabels() []models.Semester {
	var out []models.Semester
	for _, s := range models.AllSemesters {
		if st.seen[s] {
			out = append(out, s)
		}
	}
	return out
}

// Messages renders conflicts for an API response
func Messages(conflicts []Conflict) []string {
	out := make([]string, len(conflicts))
	for i, c := range conflicts {
		out[i] = c.Error()
	}
	return out
}

// GroupByRoom splits claims by room id, keeping input order within each room.
// Room ids are returned sorted.
func GroupByRoom[T any](items []T, roomID func(T) string) (map[string][]T, []string) {
	grouped := make(map[string][]T)
	for _, item := range items {
		id := roomID(item)
		grouped[id] = append(grouped[id], item)
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return grouped, ids
}

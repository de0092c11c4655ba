package records

import (
	"slices"
	"strings"
	"time"
)

// UpcomingEvents returns events that have not ended at now, soonest first.
func UpcomingEvents(events []Event, now time.Time) []Event {
	var out []Event
	for _, e := range events {
		if !eventEnd(e).Before(now) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Event) int { return a.StartsAt.Compare(b.StartsAt) })
	return out
}

// PastEvents returns events that ended before now, most recent first.
func PastEvents(events []Event, now time.Time) []Event {
	var out []Event
	for _, e := range events {
		if eventEnd(e).Before(now) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Event) int { return b.StartsAt.Compare(a.StartsAt) })
	return out
}

func eventEnd(e Event) time.Time {
	if e.EndsAt.IsZero() {
		return e.StartsAt
	}
	return e.EndsAt
}

// SearchMembers returns members whose name, role or major contains query,
// case-insensitively. A non-empty role must match exactly, ignoring case.
func SearchMembers(members []Member, query, role string) []Member {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Member
	for _, m := range members {
		if role != "" && !strings.EqualFold(m.Role, role) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(m.Name), q) &&
			!strings.Contains(strings.ToLower(m.Role), q) &&
			!strings.Contains(strings.ToLower(m.Major), q) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ApplicationsByStatus returns applications in status; an empty status
// matches all.
func ApplicationsByStatus(apps []Application, status Status) []Application {
	if status == "" {
		return apps
	}
	var out []Application
	for _, a := range apps {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

// UsersByRole returns users with role; an empty role matches all.
func UsersByRole(users []User, role Role) []User {
	if role == "" {
		return users
	}
	var out []User
	for _, u := range users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out
}

package policy

import "sort"

// Route resolves a task's destination calendar from its tag set.
//
// Tie-break rule: when the tags map to more than one distinct calendar
// the route falls back to the default calendar and a warning is
// returned; ambiguity is never resolved to an arbitrary calendar.
func (p SyncPolicy) Route(title string, tags []string) (string, *RouteWarning) {
	seen := map[string]bool{}
	var calendars []string
	for _, tag := range tags {
		if cal, ok := p.TagRoutes[tag]; ok && !seen[cal] {
			seen[cal] = true
			calendars = append(calendars, cal)
		}
	}
	switch len(calendars) {
	case 0:
		return p.DefaultCalendarID, nil
	case 1:
		return calendars[0], nil
	default:
		sort.Strings(calendars)
		return p.DefaultCalendarID, &RouteWarning{
			TaskTitle: title,
			Tags:      tags,
			Calendars: calendars,
		}
	}
}

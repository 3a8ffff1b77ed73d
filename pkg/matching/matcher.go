package matching

import (
	"sort"

	"bloodhub/pkg/domain"
	"bloodhub/pkg/location"
)

// Match computes the ordered candidate list for a request. Donors are kept
// when their blood group equals the requested type, eligible accepts them and
// they fall inside the urgency's search scope. Candidates are ordered by
// proximity priority, then by phone so the result is reproducible for a given
// directory snapshot.
func Match(req domain.Request, donors []domain.User, eligible func(domain.User) bool) []domain.MatchedDonor {
	scope := req.Urgency.Scope()
	matched := make([]domain.MatchedDonor, 0)
	for _, u := range donors {
		if !u.Role.CanDonate() || u.BloodGroup != req.BloodType {
			continue
		}
		if eligible != nil && !eligible(u) {
			continue
		}
		level := location.Proximity(req.Location, u.Location)
		if !inScope(scope, level) {
			continue
		}
		matched = append(matched, domain.MatchedDonor{
			Phone:    u.Phone,
			Name:     u.Name,
			Location: u.Location.String(),
			Distance: level.Distance(),
			Priority: int(level),
		})
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].Phone < matched[j].Phone
	})
	return matched
}

// inScope: Taluk scope keeps village and taluk matches, District scope adds
// the rest of the district, FullState keeps everyone.
func inScope(scope domain.SearchScope, level location.Level) bool {
	switch scope {
	case domain.ScopeFullState:
		return true
	case domain.ScopeDistrict:
		return level <= location.SameDistrict
	default:
		return level <= location.SameTaluk
	}
}

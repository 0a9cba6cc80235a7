package rounds

import "strings"

// positionGroups expands a group token into its member positions. The filter
// on a round may be a single position, a comma-separated list, or one of
// these tokens.
var positionGroups = map[string][]string{
	"GOALKEEPERS": {"GK"},
	"DEFENDERS":   {"CB", "LB", "RB", "LWB", "RWB"},
	"MIDFIELDERS": {"CDM", "CM", "CAM", "LM", "RM"},
	"FORWARDS":    {"LW", "RW", "CF", "ST", "SS"},
}

// ExpandPositions normalizes a round's position filter into a concrete
// position list. An empty filter matches every position.
func ExpandPositions(filter string) []string {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil
	}

	if group, ok := positionGroups[strings.ToUpper(filter)]; ok {
		return group
	}

	parts := strings.Split(filter, ",")
	positions := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if group, ok := positionGroups[p]; ok {
			positions = append(positions, group...)
			continue
		}
		positions = append(positions, p)
	}
	return positions
}

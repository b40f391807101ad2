package google

import "strings"

// headerExternalID is the header cell users typically put above column H.
const headerExternalID = "external_id"

// exportedIDs builds the set of external ids already present in a sheet
// column. Blank cells and the header row are ignored.
func exportedIDs(col []string) map[string]struct{} {
	seen := make(map[string]struct{}, len(col))
	for _, v := range col {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, headerExternalID) {
			continue
		}
		seen[v] = struct{}{}
	}
	return seen
}

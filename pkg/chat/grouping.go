package chat

// PartGroup is a run of part indices sharing a parent part id.
type PartGroup struct {
	ParentID string
	Indices  []int
}

// GroupPartsByParentID groups parts by their parent id. Groups appear in the
// order their parent id is first seen; parts without a parent id follow all
// grouped parts, one group each.
func GroupPartsByParentID(parts []Part) []PartGroup {
	if len(parts) == 0 {
		return nil
	}

	var groups []PartGroup
	groupIndex := make(map[string]int)
	grouped := make([]bool, len(parts))

	for i, p := range parts {
		parentID := p.Group()
		if parentID == "" {
			continue
		}
		gi, ok := groupIndex[parentID]
		if !ok {
			gi = len(groups)
			groups = append(groups, PartGroup{ParentID: parentID})
			groupIndex[parentID] = gi
		}
		groups[gi].Indices = append(groups[gi].Indices, i)
		grouped[i] = true
	}

	for i := range parts {
		if !grouped[i] {
			groups = append(groups, PartGroup{Indices: []int{i}})
		}
	}
	return groups
}

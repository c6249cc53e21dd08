package apiary

// EntityKind names one of the three collections.
type EntityKind string

const (
	KindLocation  EntityKind = "location"
	KindBeehive   EntityKind = "beehive"
	KindRecording EntityKind = "recording"
)

// Table returns the remote table backing the kind.
func (k EntityKind) Table() string {
	switch k {
	case KindLocation:
		return "locations"
	case KindBeehive:
		return "beehives"
	case KindRecording:
		return "recordings"
	default:
		return ""
	}
}

// KindForTable is the inverse of EntityKind.Table.
func KindForTable(table string) (EntityKind, bool) {
	switch table {
	case "locations":
		return KindLocation, true
	case "beehives":
		return KindBeehive, true
	case "recordings":
		return KindRecording, true
	default:
		return "", false
	}
}

// CascadeRule declares that deleting a parent deletes every Dependent whose
// ForeignKey (local field) / Column (remote column) references it.
type CascadeRule struct {
	Dependent  EntityKind
	ForeignKey string
	Column     string
}

var cascadeRules = map[EntityKind][]CascadeRule{
	KindLocation: {
		{Dependent: KindBeehive, ForeignKey: "locationId", Column: "location_id"},
	},
	KindBeehive: {
		{Dependent: KindRecording, ForeignKey: "beehiveId", Column: "beehive_id"},
	},
	KindRecording: nil,
}

// CascadeRules returns the dependents deleted together with kind.
func CascadeRules(kind EntityKind) []CascadeRule {
	rules := cascadeRules[kind]
	copied := make([]CascadeRule, len(rules))
	copy(copied, rules)
	return copied
}

// ChildLookup resolves the identifiers of rule.Dependent entities referencing any of parentIDs.
type ChildLookup func(rule CascadeRule, parentIDs []string) ([]string, error)

// DeletionSet groups the identifiers removed by a cascading delete.
type DeletionSet map[EntityKind][]string

// Contains reports whether id of the given kind is scheduled for deletion.
func (set DeletionSet) Contains(kind EntityKind, id string) bool {
	for _, candidate := range set[kind] {
		if candidate == id {
			return true
		}
	}
	return false
}

// Lookup returns the identifiers of kind as a set.
func (set DeletionSet) Lookup(kind EntityKind) map[string]struct{} {
	ids := make(map[string]struct{}, len(set[kind]))
	for _, id := range set[kind] {
		ids[id] = struct{}{}
	}
	return ids
}

// Count returns the total number of identifiers across kinds.
func (set DeletionSet) Count() int {
	total := 0
	for _, ids := range set {
		total += len(ids)
	}
	return total
}

// Cascade walks the rule table breadth-first from the root entity.
func Cascade(root EntityKind, rootID string, lookup ChildLookup) (DeletionSet, error) {
	set := DeletionSet{root: {rootID}}
	type frontier struct {
		kind EntityKind
		ids  []string
	}
	queue := []frontier{{kind: root, ids: []string{rootID}}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, rule := range cascadeRules[current.kind] {
			childIDs, err := lookup(rule, current.ids)
			if err != nil {
				return nil, err
			}
			if len(childIDs) == 0 {
				continue
			}
			set[rule.Dependent] = append(set[rule.Dependent], childIDs...)
			queue = append(queue, frontier{kind: rule.Dependent, ids: childIDs})
		}
	}
	return set, nil
}

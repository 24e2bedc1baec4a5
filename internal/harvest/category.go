package harvest

// Category is the thematic partition a service is archived under.
type Category string

// The closed set of categories.
const (
	CategoryMilitary      Category = "Military"
	CategoryHumanRights   Category = "HumanRights"
	CategoryVictims       Category = "Victims"
	CategoryArmedGroups   Category = "ArmedGroups"
	CategoryPeaceProcess  Category = "PeaceProcess"
	CategoryIndigenous    Category = "Indigenous"
	CategoryHosted        Category = "Hosted"
	CategoryUncategorized Category = "Uncategorized"
)

var categoryDirs = map[Category]string{
	CategoryMilitary:      "MILITARY_MAPS",
	CategoryHumanRights:   "DDHH_HUMAN_RIGHTS",
	CategoryVictims:       "VICTIMS",
	CategoryArmedGroups:   "ARMED_GROUPS",
	CategoryPeaceProcess:  "PEACE_PROCESS",
	CategoryIndigenous:    "INDIGENOUS",
	CategoryHosted:        "HOSTED_SERVICES",
	CategoryUncategorized: "UNCATEGORIZED",
}

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryMilitary,
		CategoryHumanRights,
		CategoryVictims,
		CategoryArmedGroups,
		CategoryPeaceProcess,
		CategoryIndigenous,
		CategoryHosted,
		CategoryUncategorized,
	}
}

// Dir returns the archive partition directory name.
func (c Category) Dir() string {
	if dir, ok := categoryDirs[c]; ok {
		return dir
	}
	return categoryDirs[CategoryUncategorized]
}

// Package category routes service names to archive partitions through an ordered
// table of substring rules.
package category

import (
	"strings"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// Rule maps any of its keywords to a category.
type Rule struct {
	Category harvest.Category
	Keywords []string
}

// Table is an ordered rule list. The first matching rule wins. A Table must not be
// modified once it is shared between goroutines.
type Table struct {
	rules []Rule
}

// NewTable returns an empty table; every name categorizes as Uncategorized.
func NewTable() *Table {
	return &Table{}
}

// Register appends a rule. Keywords are matched case-insensitively; blank ones are ignored.
func (t *Table) Register(cat harvest.Category, keywords ...string) *Table {
	rule := Rule{Category: cat}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			rule.Keywords = append(rule.Keywords, kw)
		}
	}
	if len(rule.Keywords) > 0 {
		t.rules = append(t.rules, rule)
	}
	return t
}

// Rules returns a copy of the registered rules in match order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Categorize returns the category of the first rule with a keyword contained in name.
func (t *Table) Categorize(name string) harvest.Category {
	lower := strings.ToLower(name)
	for _, rule := range t.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return harvest.CategoryUncategorized
}

// DefaultTable returns the built-in rules. The CNR_ prefix marks the territorial
// control assessments, which are filed with the armed-group layers even though their
// names carry a MIL suffix.
func DefaultTable() *Table {
	return NewTable().
		Register(harvest.CategoryArmedGroups, "cnr_").
		Register(harvest.CategoryMilitary, "mil1", "militar").
		Register(harvest.CategoryHumanRights, "ddhh", "fiscalia", "flip", "fecolper").
		Register(harvest.CategoryVictims, "victim", "mujeres").
		Register(harvest.CategoryArmedGroups, "agc", "eln", "disidencia", "farc", "clan").
		Register(harvest.CategoryPeaceProcess, "paz", "acuerdo", "firmante", "reinteg", "aetcr").
		Register(harvest.CategoryIndigenous, "resguardo", "indigena", "etnic").
		Register(harvest.CategoryHosted, "hosted")
}

var defaultTable = DefaultTable()

// Categorize classifies name with the default table.
func Categorize(name string) harvest.Category {
	return defaultTable.Categorize(name)
}

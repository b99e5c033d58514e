package config

import "strings"

// Policy decides which data categories a request may collect and erase, and
// how erased values are rewritten.
type Policy struct {
	Name              string
	AccessCategories  []string
	ErasureCategories []string
	// Masking names a masking strategy, e.g. "null_rewrite" or "delete".
	Masking string
}

// AuthorizesAccess reports whether the field may appear in access results.
func (p *Policy) AuthorizesAccess(f *Field) bool {
	return matchesAny(p.AccessCategories, f.Categories)
}

// AuthorizesErasure reports whether the field is an erasure target.
func (p *Policy) AuthorizesErasure(f *Field) bool {
	if f.PrimaryKey || f.ReadOnly {
		return false
	}
	return matchesAny(p.ErasureCategories, f.Categories)
}

// matchesAny reports whether any rule equals a category or is one of its
// dotted prefixes.
func matchesAny(rules, categories []string) bool {
	for _, rule := range rules {
		for _, cat := range categories {
			if CategoryMatches(rule, cat) {
				return true
			}
		}
	}
	return false
}

// CategoryMatches reports whether rule covers category. "user" covers
// "user.contact.email"; "user.contact" does not cover "user.name".
func CategoryMatches(rule, category string) bool {
	if rule == category {
		return true
	}
	return strings.HasPrefix(category, rule+".")
}

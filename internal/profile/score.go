package profile

import "douly-backend/internal/models"

// Merge folds freshly scanned fields into the known profile. A facet that is
// already set is kept; the first value found wins.
func Merge(known models.Profile, f Fields) (models.Profile, []Facet) {
	var changed []Facet
	if known.FullName == "" && f.FullName != "" {
		known.FullName = f.FullName
		changed = append(changed, FacetName)
	}
	if known.Company == "" && f.Company != "" {
		known.Company = f.Company
		changed = append(changed, FacetCompany)
	}
	if known.Email == "" && f.Email != "" {
		known.Email = f.Email
		changed = append(changed, FacetEmail)
	}
	return known, changed
}

// Score is the completion percentage of p, 100 when every facet is present.
func Score(p models.Profile) int {
	present := 0
	for _, facet := range Facets {
		if Value(p, facet) != "" {
			present++
		}
	}
	return present * 100 / len(Facets)
}

// NextFacet returns the first missing facet in capture order, or FacetNone.
func NextFacet(p models.Profile) Facet {
	for _, facet := range Facets {
		if Value(p, facet) == "" {
			return facet
		}
	}
	return FacetNone
}

func Value(p models.Profile, facet Facet) string {
	switch facet {
	case FacetName:
		return p.FullName
	case FacetCompany:
		return p.Company
	case FacetEmail:
		return p.Email
	}
	return ""
}

// With returns p with facet set to value.
func With(p models.Profile, facet Facet, value string) models.Profile {
	switch facet {
	case FacetName:
		p.FullName = value
	case FacetCompany:
		p.Company = value
	case FacetEmail:
		p.Email = value
	}
	return p
}

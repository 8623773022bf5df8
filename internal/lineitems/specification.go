package lineitems

import "strings"

// SpecificationEntry is one attribute of a body build, e.g. "Lantai" = "Plat bordes 3mm".
type SpecificationEntry struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// SpecificationCategory groups entries under a heading such as "Rangka" or "Kelistrikan".
type SpecificationCategory struct {
	Category string               `json:"category" validate:"required"`
	Items    []SpecificationEntry `json:"items" validate:"dive"`
}

// Specifications is the nested specification tree attached to a line item.
type Specifications []SpecificationCategory

// Clone returns a deep copy, used when items are carried into a new document.
func (s Specifications) Clone() Specifications {
	if s == nil {
		return Specifications{}
	}
	out := make(Specifications, len(s))
	for i, cat := range s {
		out[i] = SpecificationCategory{Category: cat.Category, Items: append([]SpecificationEntry(nil), cat.Items...)}
	}
	return out
}

// Normalize trims names and drops empty categories.
func (s Specifications) Normalize() Specifications {
	out := make(Specifications, 0, len(s))
	for _, cat := range s {
		cat.Category = strings.TrimSpace(cat.Category)
		if cat.Category == "" && len(cat.Items) == 0 {
			continue
		}
		items := make([]SpecificationEntry, 0, len(cat.Items))
		for _, it := range cat.Items {
			it.Name = strings.TrimSpace(it.Name)
			it.Value = strings.TrimSpace(it.Value)
			if it.Name == "" {
				continue
			}
			items = append(items, it)
		}
		cat.Items = items
		out = append(out, cat)
	}
	return out
}

// OrEmpty returns s, or an empty tree when s is nil, so JSON columns never store null.
func (s Specifications) OrEmpty() Specifications {
	if s == nil {
		return Specifications{}
	}
	return s
}

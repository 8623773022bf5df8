// Package lineitems holds the numbering rules shared by request items and
// offer items: new items take max+1 and deletions repack the survivors into a
// dense 1..N sequence ordered by their previous number.
package lineitems

import "sort"

// Numbered is an item identity plus its current position.
type Numbered struct {
	ID     int64
	Number int
}

// Renumber moves one item to a new position.
type Renumber struct {
	ID   int64
	From int
	To   int
}

// NextNumber returns max(existing)+1, or 1 for an empty parent.
func NextNumber(existing []int) int {
	highest := 0
	for _, n := range existing {
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}

// Repack assigns 1..N to items in ascending order of their current number
// (ties by id) and returns only the items whose number changes.
func Repack(items []Numbered) []Renumber {
	ordered := append([]Numbered(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Number == ordered[j].Number {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Number < ordered[j].Number
	})
	var changes []Renumber
	for i, it := range ordered {
		if it.Number != i+1 {
			changes = append(changes, Renumber{ID: it.ID, From: it.Number, To: i + 1})
		}
	}
	return changes
}

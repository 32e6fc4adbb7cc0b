package matcher

import (
	"rate-reconciliation-service/internal/models"
)

// POLineGroup holds one PO line and the distinct receipt and bill lines
// joined to it. Membership checks go through per-side key indexes.
type POLineGroup struct {
	Info     models.POLineInfo
	Receipts []models.JoinedLine
	Bills    []models.JoinedLine

	receiptIndex map[string]struct{}
	billIndex    map[string]struct{}
}

func newPOLineGroup(info models.POLineInfo) *POLineGroup {
	return &POLineGroup{
		Info:         info,
		receiptIndex: make(map[string]struct{}),
		billIndex:    make(map[string]struct{}),
	}
}

// AddReceipt appends a receipt line unless its line key is already present
func (g *POLineGroup) AddReceipt(line models.JoinedLine) bool {
	if _, seen := g.receiptIndex[line.LineKey]; seen {
		return false
	}
	g.receiptIndex[line.LineKey] = struct{}{}
	g.Receipts = append(g.Receipts, line)
	return true
}

// AddBill appends a bill line unless its line key is already present
func (g *POLineGroup) AddBill(line models.JoinedLine) bool {
	if _, seen := g.billIndex[line.LineKey]; seen {
		return false
	}
	g.billIndex[line.LineKey] = struct{}{}
	g.Bills = append(g.Bills, line)
	return true
}

// GroupIndex maps PO line keys to their groups and remembers first-seen order
type GroupIndex struct {
	groups map[string]*POLineGroup
	order  []string

	// RowsSeen and DuplicatesSkipped describe the Cartesian expansion absorbed.
	RowsSeen          int
	DuplicatesSkipped int
}

// NewGroupIndex creates an empty group index
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{groups: make(map[string]*POLineGroup)}
}

// GroupRows builds a group index from raw join rows in a single pass
func GroupRows(rows []models.RawJoinRow) *GroupIndex {
	idx := NewGroupIndex()
	for i := range rows {
		idx.Add(&rows[i])
	}
	return idx
}

// Add folds one raw join row into its group. Rows without a PO line key are ignored.
func (gi *GroupIndex) Add(row *models.RawJoinRow) {
	key := row.PO.LineKey
	if key == "" {
		return
	}
	gi.RowsSeen++

	group, exists := gi.groups[key]
	if !exists {
		group = newPOLineGroup(row.PO)
		gi.groups[key] = group
		gi.order = append(gi.order, key)
	}

	if row.Receipt != nil && row.Receipt.LineKey != "" {
		if !group.AddReceipt(*row.Receipt) {
			gi.DuplicatesSkipped++
		}
	}
	if row.Bill != nil && row.Bill.LineKey != "" {
		if !group.AddBill(*row.Bill) {
			gi.DuplicatesSkipped++
		}
	}
}

// Get returns the group for a PO line key
func (gi *GroupIndex) Get(key string) (*POLineGroup, bool) {
	g, ok := gi.groups[key]
	return g, ok
}

// Len returns the number of groups
func (gi *GroupIndex) Len() int {
	return len(gi.groups)
}

// Groups returns the groups in first-seen order
func (gi *GroupIndex) Groups() []*POLineGroup {
	out := make([]*POLineGroup, 0, len(gi.order))
	for _, key := range gi.order {
		out = append(out, gi.groups[key])
	}
	return out
}

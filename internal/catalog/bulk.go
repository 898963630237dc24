package catalog

// FailedItem describes one entry a bulk operation could not write. Index is
// the position in the caller's input.
type FailedItem struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// BulkResult is returned by every bulk write, including fully successful ones.
type BulkResult struct {
	SuccessCount int          `json:"success_count"`
	Failed       []FailedItem `json:"failed_items"`
}

func NewBulkResult() BulkResult {
	return BulkResult{Failed: []FailedItem{}}
}

func (r BulkResult) FailedCount() int {
	return len(r.Failed)
}

func (r *BulkResult) Fail(index int, id, reason string) {
	r.Failed = append(r.Failed, FailedItem{Index: index, ID: id, Reason: reason})
}

// Merge adds other into r, shifting other's indexes by offset.
func (r *BulkResult) Merge(other BulkResult, offset int) {
	r.SuccessCount += other.SuccessCount
	for _, f := range other.Failed {
		f.Index += offset
		r.Failed = append(r.Failed, f)
	}
}

type WriteResult int

const (
	Created WriteResult = iota + 1
	Updated
)

func (w WriteResult) String() string {
	switch w {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

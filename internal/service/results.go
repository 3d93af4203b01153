package service

// ItemStatus is the per-item outcome of a batch operation.
type ItemStatus string

// Item outcomes.
const (
	ItemOK       ItemStatus = "ok"
	ItemAccepted ItemStatus = "accepted"
	ItemSkipped  ItemStatus = "skipped"
	ItemFailed   ItemStatus = "error"
)

// ItemResult reports what happened to one id in a batch.
type ItemResult struct {
	Err    error      `json:"-"`
	ID     string     `json:"id"`
	Status ItemStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BatchResult collects per-item outcomes. A failure in one item never undoes another.
type BatchResult struct {
	Items []ItemResult `json:"items"`
}

// Add records an outcome. A non-nil err marks the item failed.
func (b *BatchResult) Add(id string, status ItemStatus, err error) {
	item := ItemResult{ID: id, Status: status, Err: err}
	if err != nil {
		item.Status = ItemFailed
		item.Reason = err.Error()
	}
	b.Items = append(b.Items, item)
}

// Succeeded returns the items that did not fail.
func (b *BatchResult) Succeeded() []ItemResult {
	return b.filter(func(i ItemResult) bool { return i.Err == nil })
}

// Failed returns the items that failed.
func (b *BatchResult) Failed() []ItemResult {
	return b.filter(func(i ItemResult) bool { return i.Err != nil })
}

// Count returns how many items have the given status.
func (b *BatchResult) Count(status ItemStatus) int {
	return len(b.filter(func(i ItemResult) bool { return i.Status == status }))
}

func (b *BatchResult) filter(keep func(ItemResult) bool) []ItemResult {
	var out []ItemResult
	for _, item := range b.Items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

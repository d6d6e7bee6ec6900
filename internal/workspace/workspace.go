// Package workspace holds the per-workspace quote aggregate: the quotes map,
// the four status buckets, and the id counter. All mutation goes through the
// methods here so that bucket membership always matches quote status.
package workspace

import (
	"fmt"

	"quoteline/internal/domain"
)

// SchemaVersion is the persisted document shape version.
const SchemaVersion = 1

// NotFoundError reports an unknown quote id.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("quote %d not found", e.ID)
}

// Workspace is the persisted per-workspace document (schema v1).
type Workspace struct {
	SchemaVersion    int                   `json:"schema_version"`
	Quotes           map[int]*domain.Quote `json:"quotes"`
	Pending          []int                 `json:"pending"`
	Ongoing          []int                 `json:"ongoing"`
	Finished         []int                 `json:"finished"`
	Cancelled        []int                 `json:"cancelled"`
	NextID           int                   `json:"next_id"`
	LastGlobalUpdate int64                 `json:"last_global_update"`
	RenderChannelRef string                `json:"render_channel_ref,omitempty"`
}

// New returns an empty workspace document.
func New() *Workspace {
	return &Workspace{
		SchemaVersion: SchemaVersion,
		Quotes:        map[int]*domain.Quote{},
		NextID:        1,
	}
}

// Insert assigns the next id to the quote, files it into the bucket matching
// its status, and returns the id. Ids are never reused.
func (w *Workspace) Insert(q domain.Quote, now int64) int {
	id := w.NextID
	w.NextID++
	q.ID = id
	stored := q.Clone()
	w.Quotes[id] = &stored
	w.appendBucket(stored.Status, id)
	w.LastGlobalUpdate = now
	return id
}

// Get returns a deep copy of the quote.
func (w *Workspace) Get(id int) (domain.Quote, error) {
	q, ok := w.Quotes[id]
	if !ok {
		return domain.Quote{}, &NotFoundError{ID: id}
	}
	return q.Clone(), nil
}

// Update applies mutate to the stored quote and stamps LastUpdate. A status
// change moves the id between buckets; moving into finished forces every
// ordered commission's stage to complete.
func (w *Workspace) Update(id int, now int64, mutate func(*domain.Quote) error) error {
	q, ok := w.Quotes[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	oldStatus := q.Status
	if err := mutate(q); err != nil {
		return err
	}
	if q.Status != oldStatus {
		w.removeBucket(oldStatus, id)
		w.appendBucket(q.Status, id)
		if q.Status == domain.StatusFinished {
			forceCompleteStages(q)
		}
	}
	q.LastUpdate = now
	w.LastGlobalUpdate = now
	return nil
}

// MoveStatus rebuckets the quote. Same-status moves are a no-op apart from
// the LastUpdate stamp.
func (w *Workspace) MoveStatus(id int, status domain.Status, now int64) error {
	return w.Update(id, now, func(q *domain.Quote) error {
		q.Status = status
		return nil
	})
}

// Clear resets the workspace to its empty default, counter included. The
// counter reset is a deliberate v1 policy: a reset workspace starts over.
func (w *Workspace) Clear() {
	*w = *New()
}

// Bucket returns a copy of the id list for a status.
func (w *Workspace) Bucket(status domain.Status) []int {
	src := w.bucket(status)
	out := make([]int, len(*src))
	copy(out, *src)
	return out
}

// Counts returns the bucket sizes keyed by status word.
func (w *Workspace) Counts() map[string]int {
	return map[string]int{
		domain.StatusPending.String():   len(w.Pending),
		domain.StatusOngoing.String():   len(w.Ongoing),
		domain.StatusFinished.String():  len(w.Finished),
		domain.StatusCancelled.String(): len(w.Cancelled),
	}
}

func (w *Workspace) bucket(status domain.Status) *[]int {
	switch status {
	case domain.StatusPending:
		return &w.Pending
	case domain.StatusOngoing:
		return &w.Ongoing
	case domain.StatusFinished:
		return &w.Finished
	default:
		return &w.Cancelled
	}
}

func (w *Workspace) appendBucket(status domain.Status, id int) {
	list := w.bucket(status)
	*list = append(*list, id)
}

func (w *Workspace) removeBucket(status domain.Status, id int) {
	list := w.bucket(status)
	for i, v := range *list {
		if v == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func forceCompleteStages(q *domain.Quote) {
	for i := range q.Items {
		if q.Items[i].Ordered() {
			q.Items[i].Stage = domain.StageComplete
		}
	}
}

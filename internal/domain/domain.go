package domain

import "fmt"

// Status is the lifecycle bucket of a Quote.
type Status int

const (
	StatusCancelled Status = 0
	StatusPending   Status = 1
	StatusOngoing   Status = 2
	StatusFinished  Status = 3
)

var statusNames = map[Status]string{
	StatusCancelled: "cancelled",
	StatusPending:   "pending",
	StatusOngoing:   "ongoing",
	StatusFinished:  "finished",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// StatusFromName resolves a status word to its code.
func StatusFromName(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Stage is the production stage of a single commission line.
type Stage int

const (
	StageNone Stage = iota
	StageDraft
	StageLineart
	StageColored
	StageComplete
)

var stageNames = map[Stage]string{
	StageNone:     "none",
	StageDraft:    "draft",
	StageLineart:  "lineart",
	StageColored:  "colored",
	StageComplete: "complete",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Active reports whether the stage means work has started but is not done.
func (s Stage) Active() bool {
	return s == StageDraft || s == StageLineart || s == StageColored
}

// StageFromName resolves a stage word to its code.
func StageFromName(name string) (Stage, bool) {
	for s, n := range stageNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// PaymentMethod is the fixed payment channel enumeration.
type PaymentMethod int

const (
	PaymentOther       PaymentMethod = 0
	PaymentTransfer    PaymentMethod = 1
	PaymentOtherWallet PaymentMethod = 2
	PaymentPaypal      PaymentMethod = 3
)

var paymentNames = map[PaymentMethod]string{
	PaymentOther:       "other",
	PaymentTransfer:    "transfer",
	PaymentOtherWallet: "other-wallet",
	PaymentPaypal:      "paypal",
}

func (p PaymentMethod) String() string {
	if name, ok := paymentNames[p]; ok {
		return name
	}
	return fmt.Sprintf("payment(%d)", int(p))
}

func (p PaymentMethod) Valid() bool {
	_, ok := paymentNames[p]
	return ok
}

// Commission is one line item of a quote. Stage is only meaningful when
// Count > 0; zero-count items are kept as slots but never rendered.
type Commission struct {
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	UnitPrice int    `json:"unit_price"`
	Stage     Stage  `json:"stage"`
}

func (c Commission) Ordered() bool { return c.Count > 0 }

func (c Commission) Subtotal() int { return c.Count * c.UnitPrice }

// CustomerData identifies the client and how to reach and bill them.
type CustomerData struct {
	Name          string        `json:"name"`
	Contact       string        `json:"contact"`
	ContactInfo   string        `json:"contact_info"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// Quote is one tracked commission order. ID is assigned by the workspace
// store at insertion; ExternalMessageRef points at the rendered projection.
type Quote struct {
	ID                 int          `json:"id"`
	Status             Status       `json:"status"`
	PaymentReceived    bool         `json:"payment_received"`
	CreatedAt          int64        `json:"created_at"`
	LastUpdate         int64        `json:"last_update"`
	EstimateStartDate  string       `json:"estimate_start_date"`
	Customer           CustomerData `json:"customer"`
	Items              []Commission `json:"items"`
	Comment            string       `json:"comment,omitempty"`
	ExternalMessageRef string       `json:"external_message_ref,omitempty"`
}

// Item returns the commission slot for a category kind, or nil.
func (q *Quote) Item(kind string) *Commission {
	for i := range q.Items {
		if q.Items[i].Kind == kind {
			return &q.Items[i]
		}
	}
	return nil
}

// Total sums subtotals over ordered items only.
func (q Quote) Total() int {
	total := 0
	for _, item := range q.Items {
		if item.Ordered() {
			total += item.Subtotal()
		}
	}
	return total
}

// Unpriced reports whether any ordered item still lacks an explicit price.
func (q Quote) Unpriced() bool {
	for _, item := range q.Items {
		if item.Ordered() && item.UnitPrice == 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand out quotes without
// aliasing the stored items slice.
func (q Quote) Clone() Quote {
	out := q
	out.Items = make([]Commission, len(q.Items))
	copy(out.Items, q.Items)
	return out
}

// APIKey is a hashed credential for the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one entry of the append-only workspace event log.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	QuoteID     string `json:"quote_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

package access

import (
	"time"
)

// State is a step of the grant state machine.
type State string

const (
	StateStart              State = "START"
	StateLedgerResolved     State = "LEDGER_RESOLVED"
	StatePermissionsChecked State = "PERMISSIONS_CHECKED"
	StateLinkIssued         State = "LINK_ISSUED"
	StateFreeBranch         State = "FREE_BRANCH"
	StateShortenedBranch    State = "SHORTENED_BRANCH"
	StateDelivered          State = "DELIVERED"
	StateScheduled          State = "SCHEDULED"
	StateDone               State = "DONE"
	StateAborted            State = "ABORTED"
)

// Grant is the outcome of one access request.
type Grant struct {
	ID        string
	UserID    int64
	ChannelID int64
	NewUser   bool
	// Free is true when the raw invite link was handed out.
	Free      bool
	Link      string
	GrantedAt time.Time
	Duration  time.Duration
	DueAt     time.Time
	// Scheduled is false when the revocation could not be stored and the
	// admin was alerted instead.
	Scheduled bool
	State     State
	History   []State
}

func (g *Grant) advance(s State) {
	g.State = s
	g.History = append(g.History, s)
}

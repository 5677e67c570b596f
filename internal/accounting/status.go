package accounting

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	StatusDraft           EntryStatus = "DRAFT"
	StatusPendingApproval EntryStatus = "PENDING_APPROVAL"
	StatusApproved        EntryStatus = "APPROVED"
	StatusPosted          EntryStatus = "POSTED"
	StatusReversed        EntryStatus = "REVERSED"
	StatusVoided          EntryStatus = "VOIDED"
)

// Action names a lifecycle operation requested against an entry.
type Action string

const (
	ActionEdit    Action = "edit"
	ActionSubmit  Action = "submit"
	ActionReject  Action = "reject"
	ActionApprove Action = "approve"
	ActionRecall  Action = "recall"
	ActionPost    Action = "post"
	ActionVoid    Action = "void"
	ActionReverse Action = "reverse"
)

// transitions is the complete lifecycle table. Anything absent is illegal.
var transitions = map[EntryStatus]map[Action]EntryStatus{
	StatusDraft: {
		ActionEdit:   StatusDraft,
		ActionSubmit: StatusPendingApproval,
		ActionVoid:   StatusVoided,
	},
	StatusPendingApproval: {
		ActionReject:  StatusDraft,
		ActionApprove: StatusApproved,
		ActionVoid:    StatusVoided,
	},
	StatusApproved: {
		ActionRecall: StatusDraft,
		ActionPost:   StatusPosted,
	},
	StatusPosted: {
		ActionReverse: StatusReversed,
	},
}

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusPosted, StatusReversed, StatusVoided:
		return true
	}
	return false
}

// Editable reports whether header and lines may still change.
func (s EntryStatus) Editable() bool {
	return s == StatusDraft
}

// Terminal reports whether no further transition exists.
func (s EntryStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// HasLedgerImpact reports whether entries in this status own ledger rows.
func (s EntryStatus) HasLedgerImpact() bool {
	return s == StatusPosted || s == StatusReversed
}

// Transition returns the status reached by applying action to s. Posting or
// reversing twice reports the idempotency guards instead of a generic
// transition error.
func (s EntryStatus) Transition(action Action) (EntryStatus, error) {
	if next, ok := transitions[s][action]; ok {
		return next, nil
	}
	switch {
	case action == ActionPost && s.HasLedgerImpact():
		return s, ErrAlreadyPosted
	case action == ActionReverse && s == StatusReversed:
		return s, ErrAlreadyReversed
	}
	return s, &TransitionError{From: s, Action: action}
}

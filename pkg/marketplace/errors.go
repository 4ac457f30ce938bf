package marketplace

import "errors"

var (
	// ErrRFQNotFound is returned when an RFQ projection doesn't exist.
	ErrRFQNotFound = errors.New("marketplace: rfq not found")
	// ErrBidNotFound is returned when a bid projection doesn't exist.
	ErrBidNotFound = errors.New("marketplace: bid not found")
	// ErrRFQNotOpen is returned when a bid or acceptance is attempted
	// against an RFQ not in the open status.
	ErrRFQNotOpen = errors.New("marketplace: rfq is not open")
	// ErrBidNotPending is returned when an action requiring a pending bid
	// (counter-offer, accept, reject) targets a bid already resolved.
	ErrBidNotPending = errors.New("marketplace: bid is not pending")
	// ErrStaleProposal is returned when a counter-offer or acceptance
	// targets a proposal hash that isn't the bid's latest.
	ErrStaleProposal = errors.New("marketplace: proposal is not the latest revision")
	// ErrAgreementNotFound is returned when a run has no associated
	// marketplace agreement.
	ErrAgreementNotFound = errors.New("marketplace: agreement not found")
)

package domain

// ResponseCode is the counterparty's decision on a single track
type ResponseCode string

const (
	ResponseNone                 ResponseCode = ""
	ResponseApproved             ResponseCode = "approved"
	ResponsePartiallyApproved    ResponseCode = "partially-approved"
	ResponseRejectedDisagreement ResponseCode = "rejected-disagreement"
	ResponseRejectedLateNotice   ResponseCode = "rejected-late-notice"
	ResponsePendingClarification ResponseCode = "pending-clarification"
	ResponseNotApplicable        ResponseCode = "not-applicable"
)

// Valid reports whether c is one of the known, non-empty response codes
func (c ResponseCode) Valid() bool {
	switch c {
	case ResponseApproved, ResponsePartiallyApproved, ResponseRejectedDisagreement,
		ResponseRejectedLateNotice, ResponsePendingClarification, ResponseNotApplicable:
		return true
	}
	return false
}

// Rejected reports whether c is any kind of rejection
func (c ResponseCode) Rejected() bool {
	return c == ResponseRejectedDisagreement || c == ResponseRejectedLateNotice
}

// CombinedStatus is the overall counterparty response across the
// compensation and deadline tracks
type CombinedStatus string

const (
	CombinedNone                  CombinedStatus = ""
	CombinedRejectedLateNotice    CombinedStatus = "rejected (late notice)"
	CombinedRejectedDisagreement  CombinedStatus = "rejected (disagreement)"
	CombinedRequiresClarification CombinedStatus = "requires clarification"
	CombinedPartiallyApproved     CombinedStatus = "partially approved"
	CombinedApproved              CombinedStatus = "approved"
)

// responseRule maps a sub-response to the overall status it forces
type responseRule struct {
	match  ResponseCode
	result CombinedStatus
}

// responseLadder is evaluated top to bottom and the first rule matching
// either sub-response wins. The order is a contractual rule, do not sort it.
var responseLadder = []responseRule{
	{match: ResponseRejectedLateNotice, result: CombinedRejectedLateNotice},
	{match: ResponseRejectedDisagreement, result: CombinedRejectedDisagreement},
	{match: ResponsePendingClarification, result: CombinedRequiresClarification},
	{match: ResponsePartiallyApproved, result: CombinedPartiallyApproved},
}

// CombineResponses derives the overall response status from the
// compensation and deadline sub-responses. An empty sub-response means the
// track has not been answered and does not take part. When neither track has
// been answered the result is CombinedNone.
func CombineResponses(compensation, deadline ResponseCode) CombinedStatus {
	if compensation == ResponseNone && deadline == ResponseNone {
		return CombinedNone
	}
	for _, rule := range responseLadder {
		if compensation == rule.match || deadline == rule.match {
			return rule.result
		}
	}
	return CombinedApproved
}

// RequiresRevision reports whether the claimant has to submit a revised
// claim: true iff either sub-response is partially approved or rejected
func RequiresRevision(compensation, deadline ResponseCode) bool {
	return needsRevision(compensation) || needsRevision(deadline)
}

func needsRevision(c ResponseCode) bool {
	switch c {
	case ResponsePartiallyApproved, ResponseRejectedDisagreement, ResponseRejectedLateNotice:
		return true
	}
	return false
}

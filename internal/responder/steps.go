package responder

// Step names one stage of the off-ramp fulfillment sequence. Every arrow
// between steps is a distinct transaction or external call, confirmed before
// the next one starts.
type Step string

const (
	StepDiscovered           Step = "DISCOVERED"
	StepComplianceChecked    Step = "COMPLIANCE_CHECKED"
	StepApprovedFunds        Step = "APPROVED_FUNDS"
	StepMintedRepresentation Step = "MINTED_REPRESENTATION"
	StepSubmittedRequest     Step = "SUBMITTED_REQUEST"
	StepFillSubmitted        Step = "FILL_SUBMITTED"
)

var stepOrder = []Step{
	StepDiscovered,
	StepComplianceChecked,
	StepApprovedFunds,
	StepMintedRepresentation,
	StepSubmittedRequest,
	StepFillSubmitted,
}

// next returns the step after s, or "" when s is the last one.
func next(s Step) Step {
	for i, cur := range stepOrder {
		if cur == s && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return ""
}

// validStep reports whether s names a known step; a corrupted checkpoint
// restarts from the beginning rather than wedging the request.
func validStep(s Step) bool {
	for _, cur := range stepOrder {
		if cur == s {
			return true
		}
	}
	return false
}

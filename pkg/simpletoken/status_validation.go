package simpletoken

import "fmt"

// decidableFrom lists the statuses Approve and Reject may leave.
var decidableFrom = []TokenStatus{TokenStatusPending}

// usableFrom lists the statuses MarkUsed and the sweep may leave.
var usableFrom = []TokenStatus{TokenStatusPending, TokenStatusApproved}

// canDecide checks if a token can be approved or rejected from its status.
func canDecide(status TokenStatus) (bool, error) {
	switch status {
	case TokenStatusPending:
		return true, nil
	case TokenStatusApproved, TokenStatusRejected:
		return false, fmt.Errorf("%w: token has already been decided (status: %s)", ErrInvalidTransition, status)
	case TokenStatusUsed:
		return false, fmt.Errorf("%w: token has already been used (status: %s)", ErrInvalidTransition, status)
	case TokenStatusExpired:
		return false, fmt.Errorf("%w: token has expired (status: %s)", ErrInvalidTransition, status)
	default:
		return false, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, status)
	}
}

// canMarkUsed checks if a token can be redeemed from its status.
// Pending tokens are redeemable: approval is an audit record, not a gate.
func canMarkUsed(status TokenStatus) (bool, error) {
	switch status {
	case TokenStatusPending, TokenStatusApproved:
		return true, nil
	case TokenStatusRejected:
		return false, fmt.Errorf("%w: token was rejected (status: %s)", ErrInvalidTransition, status)
	case TokenStatusUsed:
		return false, fmt.Errorf("%w: token has already been used (status: %s)", ErrInvalidTransition, status)
	case TokenStatusExpired:
		return false, fmt.Errorf("%w: token has expired (status: %s)", ErrInvalidTransition, status)
	default:
		return false, fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, status)
	}
}

// decisionTarget validates the status requested by a reviewer.
func decisionTarget(status TokenStatus) (TokenStatus, error) {
	switch status {
	case TokenStatusApproved, TokenStatusRejected:
		return status, nil
	default:
		return "", validationf("decision status must be %q or %q, got %q", TokenStatusApproved, TokenStatusRejected, status)
	}
}

// StatusIn reports whether status is one of from.
func StatusIn(status TokenStatus, from []TokenStatus) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}

// ExpirableStatuses returns the statuses the sweep transitions to expired.
func ExpirableStatuses() []TokenStatus {
	return []TokenStatus{TokenStatusPending, TokenStatusApproved}
}

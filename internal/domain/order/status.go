package order

import (
	"fmt"

	"github.com/agrilink/marketplace/internal/auth"
)

// fulfillmentTransitions defines the moves a farmer or admin may make once
// payment has been settled. Entering confirmed, payment_failed or leaving
// payment_pending is reserved for settlement and is absent.
var fulfillmentTransitions = map[Status][]Status{
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// CanTransitionTo checks if the order can move to target through the
// fulfillment tracker
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range fulfillmentTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case target == StatusConfirmed:
		return fmt.Errorf("%w: confirmed is only reachable through payment settlement", ErrInvalidTransition)
	case o.Status == StatusPaymentPending:
		return fmt.Errorf("%w: order %s is awaiting payment", ErrInvalidTransition, o.OrderNumber)
	case o.Status.IsTerminal():
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	case o.Status == StatusShipped && target == StatusCancelled:
		return fmt.Errorf("%w: cannot cancel shipped order", ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, target)
	}
}

// CanManage reports whether actor may drive fulfillment of the order.
func (o *Order) CanManage(actor auth.Principal) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.IsFarmer() && actor.ID == o.FarmerID
}

// CanView reports whether viewer may read the order.
func (o *Order) CanView(viewer auth.Principal) bool {
	return viewer.IsAdmin() || viewer.ID == o.BuyerID || viewer.ID == o.FarmerID
}

package jobs

// DefaultPriority applies to event types without an explicit ranking.
// Lower values dequeue first.
const DefaultPriority = 5

var priorityByEventType = map[string]int{
	"checkout.session.completed":    1,
	"invoice.payment_succeeded":     1,
	"invoice.payment_failed":        2,
	"customer.subscription.deleted": 2,
	"invoice.created":               3,
	"invoice.updated":               3,
}

// PriorityFor ranks an event type for dequeue ordering. Money movement
// outranks lifecycle bookkeeping, which outranks draft invoice chatter.
func PriorityFor(eventType string) int {
	if p, ok := priorityByEventType[eventType]; ok {
		return p
	}
	return DefaultPriority
}

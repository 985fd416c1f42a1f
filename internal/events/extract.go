package events

import (
	"encoding/json"
	"strings"
)

// Identity is what webhook payloads carry about who the event belongs to.
// Either field may be empty; events that reference neither a customer nor
// a subscription stay unlinked.
type Identity struct {
	CustomerID     string
	SubscriptionID string
}

type payloadLineParent struct {
	SubscriptionItemDetails struct {
		Subscription string `json:"subscription"`
	} `json:"subscription_item_details"`
}

type payloadObject struct {
	ID       string          `json:"id"`
	Customer json.RawMessage `json:"customer"`

	CustomerDetails struct {
		Customer string `json:"customer"`
	} `json:"customer_details"`

	Subscription json.RawMessage `json:"subscription"`

	Parent struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`

	Lines struct {
		Data []struct {
			Parent *payloadLineParent `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

// ExtractIdentity pulls the customer and subscription references out of an
// event payload. Different event families carry them in different places,
// so the lookups run in a fixed order and the first hit wins.
func ExtractIdentity(eventType string, payload json.RawMessage) Identity {
	var obj payloadObject
	if err := json.Unmarshal(payload, &obj); err != nil {
		return Identity{}
	}
	return Identity{
		CustomerID:     extractCustomerID(eventType, obj),
		SubscriptionID: extractSubscriptionID(eventType, obj),
	}
}

func extractCustomerID(eventType string, obj payloadObject) string {
	if id := refID(obj.Customer); id != "" {
		return id
	}
	if obj.CustomerDetails.Customer != "" {
		return obj.CustomerDetails.Customer
	}
	// customer.created and friends carry the customer as the payload object
	// itself. customer.subscription.* must not match here or the
	// subscription id would be mistaken for a customer id.
	if strings.HasPrefix(eventType, "customer.") &&
		!strings.HasPrefix(eventType, "customer.subscription.") &&
		obj.ID != "" {
		return obj.ID
	}
	return ""
}

func extractSubscriptionID(eventType string, obj payloadObject) string {
	if strings.HasPrefix(eventType, "customer.subscription.") && obj.ID != "" {
		return obj.ID
	}
	if strings.HasPrefix(eventType, "invoice.") {
		if id := refID(obj.Subscription); id != "" {
			return id
		}
	}
	if obj.Parent.SubscriptionDetails.Subscription != "" {
		return obj.Parent.SubscriptionDetails.Subscription
	}
	if eventType == "checkout.session.completed" {
		if id := refID(obj.Subscription); id != "" {
			return id
		}
	}
	for _, line := range obj.Lines.Data {
		if line.Parent != nil && line.Parent.SubscriptionItemDetails.Subscription != "" {
			return line.Parent.SubscriptionItemDetails.Subscription
		}
	}
	return ""
}

// refID normalizes a reference that Stripe serializes either as a bare id
// string or as an expanded object with an id field.
func refID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err == nil {
		return expanded.ID
	}
	return ""
}

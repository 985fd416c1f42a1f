package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIdentity(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   string
		want      Identity
	}{
		{
			name:      "checkout session with string refs",
			eventType: "checkout.session.completed",
			payload:   `{"id":"cs_123","customer":"cus_abc","subscription":"sub_xyz"}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "checkout session with expanded refs",
			eventType: "checkout.session.completed",
			payload:   `{"id":"cs_123","customer":{"id":"cus_abc"},"subscription":{"id":"sub_xyz"}}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "checkout session falls back to customer details",
			eventType: "checkout.session.completed",
			payload:   `{"id":"cs_123","customer_details":{"customer":"cus_abc"}}`,
			want:      Identity{CustomerID: "cus_abc"},
		},
		{
			name:      "invoice with subscription field",
			eventType: "invoice.payment_succeeded",
			payload:   `{"id":"in_1","customer":"cus_abc","subscription":"sub_xyz"}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "invoice with parent subscription details",
			eventType: "invoice.payment_failed",
			payload:   `{"id":"in_1","customer":"cus_abc","parent":{"subscription_details":{"subscription":"sub_xyz"}}}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "invoice with subscription on line items",
			eventType: "invoice.created",
			payload:   `{"id":"in_1","customer":"cus_abc","lines":{"data":[{"parent":{"subscription_item_details":{"subscription":"sub_xyz"}}}]}}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "subscription event uses object id as subscription",
			eventType: "customer.subscription.updated",
			payload:   `{"id":"sub_xyz","customer":"cus_abc"}`,
			want:      Identity{CustomerID: "cus_abc", SubscriptionID: "sub_xyz"},
		},
		{
			name:      "subscription event without customer keeps it empty",
			eventType: "customer.subscription.deleted",
			payload:   `{"id":"sub_xyz"}`,
			want:      Identity{SubscriptionID: "sub_xyz"},
		},
		{
			name:      "customer event uses object id as customer",
			eventType: "customer.updated",
			payload:   `{"id":"cus_abc"}`,
			want:      Identity{CustomerID: "cus_abc"},
		},
		{
			name:      "payment intent without references",
			eventType: "payment_intent.succeeded",
			payload:   `{"id":"pi_1","amount":999}`,
			want:      Identity{},
		},
		{
			name:      "malformed payload",
			eventType: "invoice.updated",
			payload:   `{"id":`,
			want:      Identity{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractIdentity(tc.eventType, json.RawMessage(tc.payload))
			assert.Equal(t, tc.want, got)
		})
	}
}

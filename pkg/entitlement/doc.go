// Package entitlement gates countable customer resources (campaigns,
// leads, seats) against the plan limits carried on the customer's
// subscription record.
//
// Limits are read from the subscription's live snapshot on every check,
// so plan changes and scheduled downgrades applied by the billing
// reconciliation flow are enforced immediately. Usage numbers come from
// application-registered counters:
//
//	counters := entitlement.NewRegistry()
//	counters.Register(subscription.ResourceCampaigns, countCampaigns)
//
//	ent := entitlement.NewService(store, counters)
//	if err := ent.CanCreate(ctx, customerID, subscription.ResourceCampaigns); err != nil {
//		// surface the limit to the user
//	}
package entitlement

package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/clientip"
	"github.com/EcMarius/numz.ai-sub009/pkg/entitlement"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// apiRouter exposes the seat and plan operations to the application's
// backend. Authentication and tenancy are enforced upstream; this
// surface trusts its caller.
func apiRouter(service *subscription.Service, ent *entitlement.Service) chi.Router {
	r := chi.NewRouter()
	r.Post("/subscriptions/{id}/seats", handleSeatChange(service))
	r.Post("/subscriptions/{id}/seats/complete", handleCompleteSeatChange(service))
	r.Post("/subscriptions/{id}/plan", handlePlanChange(service))
	r.Delete("/subscriptions/{id}/plan/scheduled", handleCancelScheduledDowngrade(service))
	r.Post("/subscriptions/{id}/cancel", handleCancelSubscription(service))
	r.Get("/customers/{id}/usage", handleCustomerUsage(ent))
	return r
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func handleSeatChange(service *subscription.Service) http.HandlerFunc {
	type request struct {
		Seats int `json:"seats"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := subscriptionID(w, r)
		if !ok {
			return
		}
		var req request
		if !decode(w, r, &req) {
			return
		}
		respond(w, service.RequestSeatChange(r.Context(), id, req.Seats, clientip.GetIP(r)))
	}
}

func handleCompleteSeatChange(service *subscription.Service) http.HandlerFunc {
	type request struct {
		PendingID  uuid.UUID `json:"pending_id"`
		CustomerID uuid.UUID `json:"customer_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := subscriptionID(w, r); !ok {
			return
		}
		var req request
		if !decode(w, r, &req) {
			return
		}
		respond(w, service.CompletePendingSeatChange(r.Context(), req.PendingID, req.CustomerID))
	}
}

func handlePlanChange(service *subscription.Service) http.HandlerFunc {
	type request struct {
		PlanID               string `json:"plan_id"`
		Cycle                string `json:"cycle"`
		ReplaceScheduledPlan bool   `json:"replace_scheduled_plan"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := subscriptionID(w, r)
		if !ok {
			return
		}
		var req request
		if !decode(w, r, &req) {
			return
		}
		cycle := subscription.BillingCycle(req.Cycle)
		if req.ReplaceScheduledPlan {
			respond(w, service.CancelDowngradeAndUpgrade(r.Context(), id, req.PlanID, cycle))
			return
		}
		respond(w, service.ChangePlan(r.Context(), id, req.PlanID, cycle))
	}
}

func handleCancelScheduledDowngrade(service *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := subscriptionID(w, r)
		if !ok {
			return
		}
		respond(w, service.CancelScheduledDowngrade(r.Context(), id))
	}
}

func handleCustomerUsage(ent *entitlement.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid customer id", http.StatusBadRequest)
			return
		}
		usage, err := ent.AllUsage(r.Context(), customerID)
		if err != nil {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		respond(w, usage)
	}
}

func handleCancelSubscription(service *subscription.Service) http.HandlerFunc {
	type request struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := subscriptionID(w, r)
		if !ok {
			return
		}
		var req request
		if !decode(w, r, &req) {
			return
		}
		respond(w, service.CancelSubscription(r.Context(), id, req.Reason, req.Details))
	}
}

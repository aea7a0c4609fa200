package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/loyalty-ledger/api/responses"
	"github.com/angelmondragon/loyalty-ledger/api/validators"
	"github.com/angelmondragon/loyalty-ledger/internal/loyalty"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/pagination"
)

const (
	maxDescriptionLength = 500
	maxReferenceLength   = 255
)

// ExpirySweeper runs one expiry pass.
type ExpirySweeper interface {
	RunExpirySweep(ctx context.Context, now time.Time) (loyalty.SweepResult, error)
}

type earnRequest struct {
	Points      int64      `json:"points" validate:"gt=0"`
	Description string     `json:"description" validate:"required,notblank"`
	Reference   *string    `json:"reference,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type redeemRequest struct {
	Points      int64   `json:"points" validate:"gt=0"`
	Description string  `json:"description" validate:"required,notblank"`
	Reference   *string `json:"reference,omitempty"`
}

type adjustRequest struct {
	Points      int64   `json:"points" validate:"ne=0"`
	Description string  `json:"description" validate:"required,notblank"`
	Reference   *string `json:"reference,omitempty"`
}

type sweepRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// LoyaltyGetAccount returns an existing account.
func LoyaltyGetAccount(svc loyalty.Service, policy *loyalty.TierPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		account, err := svc.GetAccount(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, loyalty.AccountFromModel(account, policy))
	}
}

// LoyaltyOpenAccount returns the customer's account, creating it at the lowest tier.
func LoyaltyOpenAccount(svc loyalty.Service, policy *loyalty.TierPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		account, err := svc.GetOrCreateAccount(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, loyalty.AccountFromModel(account, policy))
	}
}

// LoyaltyEarn credits points to the customer.
func LoyaltyEarn(svc loyalty.Service, policy *loyalty.TierPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		var req earnRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			utc := req.ExpiresAt.UTC()
			expiresAt = &utc
		}

		result, err := svc.EarnPoints(ctx, loyalty.EarnInput{
			CustomerID:  customerID,
			Points:      req.Points,
			Description: validators.SanitizeString(req.Description, maxDescriptionLength),
			Reference:   validators.SanitizeOptional(req.Reference, maxReferenceLength),
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, loyalty.ResultFromModel(result, policy))
	}
}

// LoyaltyRedeem debits points. The balance never goes negative.
func LoyaltyRedeem(svc loyalty.Service, policy *loyalty.TierPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		var req redeemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.RedeemPoints(ctx, loyalty.RedeemInput{
			CustomerID:  customerID,
			Points:      req.Points,
			Description: validators.SanitizeString(req.Description, maxDescriptionLength),
			Reference:   validators.SanitizeOptional(req.Reference, maxReferenceLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, loyalty.ResultFromModel(result, policy))
	}
}

// LoyaltyAdjust applies a signed manual correction.
func LoyaltyAdjust(svc loyalty.Service, policy *loyalty.TierPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.AdjustPoints(ctx, loyalty.AdjustInput{
			CustomerID:  customerID,
			Points:      req.Points,
			Description: validators.SanitizeString(req.Description, maxDescriptionLength),
			Reference:   validators.SanitizeOptional(req.Reference, maxReferenceLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, loyalty.ResultFromModel(result, policy))
	}
}

// LoyaltyTransactions pages through a customer's history, newest first.
func LoyaltyTransactions(svc loyalty.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}
		ctx, customerID := customerScope(r, logg)

		input, err := parseTransactionsQuery(r, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListTransactions(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, loyalty.PageFromModel(page))
	}
}

// LoyaltyExpirySweep triggers an expiry pass outside the cron schedule.
func LoyaltyExpirySweep(sweeper ExpirySweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "expiry sweeper unavailable"))
			return
		}

		now := time.Now().UTC()
		if r.ContentLength != 0 {
			var req sweepRequest
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if req.AsOf != nil {
				now = req.AsOf.UTC()
			}
		}

		result, err := sweeper.RunExpirySweep(r.Context(), now)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func customerScope(r *http.Request, logg *logger.Logger) (context.Context, string) {
	customerID := strings.TrimSpace(chi.URLParam(r, "customerId"))
	ctx := r.Context()
	if logg != nil && customerID != "" {
		ctx = logg.WithCustomerID(ctx, customerID)
	}
	return ctx, customerID
}

func parseTransactionsQuery(r *http.Request, customerID string) (loyalty.ListTransactionsInput, error) {
	q := validators.NewQuery(r)
	input := loyalty.ListTransactionsInput{
		CustomerID: customerID,
		Page:       q.Int("page", pagination.DefaultPage, "min=1,max=1000000"),
		Limit:      q.Int("limit", pagination.DefaultLimit, "min=1,max="+strconv.Itoa(pagination.MaxLimit)),
		From:       q.Time("from"),
		To:         q.Time("to"),
	}
	if raw := q.String("type", ""); raw != "" {
		txType, err := enums.ParseLoyaltyTransactionType(raw)
		if err != nil {
			q.Reject("type", "must be one of [earn redeem adjust expire]")
		} else {
			input.Type = &txType
		}
	}
	if input.From != nil && input.To != nil && input.To.Before(*input.From) {
		q.Reject("to", "must not be before from")
	}
	return input, q.Err()
}

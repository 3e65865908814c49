// Package domain defines the purchase analysis entities, ports and error taxonomy.
package domain

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNoCredentials       = errors.New("no credentials configured")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRateLimit   = errors.New("upstream rate limit")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamStatus      = errors.New("upstream status")
	ErrSchemaInvalid       = errors.New("schema invalid")
	ErrInternal            = errors.New("internal error")
)

// Product describes the item the user is about to buy.
// Invariants: Price >= 0; Currency is a short code such as "USD".
type Product struct {
	Name              string   `json:"name" validate:"required,max=300"`
	Price             float64  `json:"price" validate:"gte=0"`
	Currency          string   `json:"currency" validate:"required,max=8"`
	OriginalPrice     *float64 `json:"originalPrice,omitempty" validate:"omitempty,gte=0"`
	Category          string   `json:"category,omitempty" validate:"max=100"`
	UrgencyIndicators []string `json:"urgencyIndicators,omitempty" validate:"max=20,dive,max=300"`
}

// UserProfile carries optional personal finance context.
type UserProfile struct {
	FinancialGoals []string `json:"financialGoals,omitempty" validate:"max=20,dive,max=300"`
	MonthlyBudget  *float64 `json:"monthlyBudget,omitempty" validate:"omitempty,gte=0"`
	SavingsGoal    *float64 `json:"savingsGoal,omitempty" validate:"omitempty,gte=0"`
}

// AnalysisRequest is the input of a purchase analysis.
type AnalysisRequest struct {
	Product     Product      `json:"product" validate:"required"`
	UserProfile *UserProfile `json:"userProfile,omitempty" validate:"omitempty"`
}

// WarningType enumerates manipulation patterns the model may flag.
type WarningType string

const (
	WarningFakeDiscount        WarningType = "fake_discount"
	WarningUrgencyManipulation WarningType = "urgency_manipulation"
	WarningInflatedPrice       WarningType = "inflated_price"
)

// Valid reports whether t is a known warning type.
func (t WarningType) Valid() bool {
	switch t {
	case WarningFakeDiscount, WarningUrgencyManipulation, WarningInflatedPrice:
		return true
	}
	return false
}

// ParseWarningType matches s case-insensitively against the known types.
func ParseWarningType(s string) (WarningType, bool) {
	t := WarningType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// SuggestedAction is the recommendation shown to the user.
type SuggestedAction string

const (
	ActionProceed  SuggestedAction = "proceed"
	ActionCooldown SuggestedAction = "cooldown"
	ActionSkip     SuggestedAction = "skip"
)

// Valid reports whether a is one of proceed, cooldown or skip.
func (a SuggestedAction) Valid() bool {
	switch a {
	case ActionProceed, ActionCooldown, ActionSkip:
		return true
	}
	return false
}

// ParseSuggestedAction matches s case-insensitively against the known actions.
func ParseSuggestedAction(s string) (SuggestedAction, bool) {
	a := SuggestedAction(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

// Warning is a single manipulation flag with a confidence in [0,1].
type Warning struct {
	Type        WarningType `json:"type"`
	Confidence  float64     `json:"confidence"`
	Explanation string      `json:"explanation"`
}

// Projections holds the future value of the money if invested instead.
type Projections struct {
	Years5  float64 `json:"years5"`
	Years10 float64 `json:"years10"`
	Years20 float64 `json:"years20"`
}

// OpportunityCost is computed locally and never taken from model output.
type OpportunityCost struct {
	Amount         float64     `json:"amount"`
	Currency       string      `json:"currency"`
	Projections    Projections `json:"projections"`
	ComparisonText string      `json:"comparisonText"`
}

// AnalysisResult is the only contract the analyzer promises to its callers.
// Invariants: EssentialityScore and every warning confidence in [0,1];
// Reasoning and PersonalizedMessage non-empty; SuggestedAction valid.
type AnalysisResult struct {
	IsEssential         bool            `json:"isEssential"`
	EssentialityScore   float64         `json:"essentialityScore"`
	Reasoning           string          `json:"reasoning"`
	Warnings            []Warning       `json:"warnings"`
	OpportunityCost     OpportunityCost `json:"opportunityCost"`
	PersonalizedMessage string          `json:"personalizedMessage"`
	SuggestedAction     SuggestedAction `json:"suggestedAction"`
}

// Validate checks every range invariant of the result.
func (r AnalysisResult) Validate() error {
	if !inUnit(r.EssentialityScore) {
		return errors.New("essentialityScore out of range")
	}
	if strings.TrimSpace(r.Reasoning) == "" {
		return errors.New("reasoning empty")
	}
	if strings.TrimSpace(r.PersonalizedMessage) == "" {
		return errors.New("personalizedMessage empty")
	}
	if !r.SuggestedAction.Valid() {
		return errors.New("suggestedAction invalid")
	}
	if r.Warnings == nil {
		return errors.New("warnings missing")
	}
	for _, w := range r.Warnings {
		if !w.Type.Valid() {
			return errors.New("warning type invalid")
		}
		if !inUnit(w.Confidence) {
			return errors.New("warning confidence out of range")
		}
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Prompt is the pair of chat messages sent to the model.
type Prompt struct {
	System string
	User   string
}

// Ports

// ChatClient performs exactly one remote model call with the given credential
// and returns the first choice's message content.
type ChatClient interface {
	Chat(ctx Context, credential string, prompt Prompt) (string, error)
}

// CredentialPool selects credentials and records call outcomes.
type CredentialPool interface {
	Next() string
	ReportSuccess(credential string)
	ReportError(credential string)
}

// OpportunityCalculator turns a price into an opportunity cost.
type OpportunityCalculator interface {
	Calculate(amount float64, currency string) OpportunityCost
}

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context

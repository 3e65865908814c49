package ai

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

// Defaults applied when the model omits a field or sends garbage.
const (
	DefaultEssentialityScore   = 0.5
	DefaultWarningConfidence   = 0.5
	DefaultReasoning           = "Unable to analyze"
	DefaultPersonalizedMessage = "Every mindful purchase brings you closer to your goals. Take a moment before you decide."
	DefaultWarningType         = domain.WarningInflatedPrice
	DefaultSuggestedAction     = domain.ActionCooldown

	FallbackReasoning           = "We couldn't analyze this purchase right now. When in doubt, give it a day before buying."
	FallbackPersonalizedMessage = "Take a breath before you buy. Waiting 24 hours is a simple way to make sure this purchase is right for you."
)

// Normalizer converts untrusted model text into a domain.AnalysisResult that
// always satisfies AnalysisResult.Validate. It holds no mutable state.
type Normalizer struct {
	cleaner    *ResponseCleaner
	calculator domain.OpportunityCalculator
}

// NewNormalizer builds a normalizer that recomputes opportunity cost with calc.
func NewNormalizer(calc domain.OpportunityCalculator) *Normalizer {
	return &Normalizer{cleaner: NewResponseCleaner(), calculator: calc}
}

// Normalize parses raw and coerces every field. Unparseable input yields Fallback.
func (n *Normalizer) Normalize(raw string, product domain.Product) domain.AnalysisResult {
	obj, err := n.cleaner.DecodeObject(raw)
	if err != nil {
		slog.Warn("model reply is not a JSON object; using fallback",
			slog.Int("raw_length", len(raw)),
			slog.Any("error", err))
		return n.Fallback(product)
	}

	return domain.AnalysisResult{
		IsEssential:         coerceBool(obj["isEssential"]),
		EssentialityScore:   coerceUnit(obj["essentialityScore"], DefaultEssentialityScore),
		Reasoning:           coerceText(obj["reasoning"], DefaultReasoning),
		Warnings:            coerceWarnings(obj["warnings"]),
		OpportunityCost:     n.opportunityCost(product),
		PersonalizedMessage: coerceText(obj["personalizedMessage"], DefaultPersonalizedMessage),
		SuggestedAction:     coerceAction(obj["suggestedAction"]),
	}
}

// Fallback is the fixed safe result with a freshly computed opportunity cost.
func (n *Normalizer) Fallback(product domain.Product) domain.AnalysisResult {
	return domain.AnalysisResult{
		IsEssential:         false,
		EssentialityScore:   DefaultEssentialityScore,
		Reasoning:           FallbackReasoning,
		Warnings:            []domain.Warning{},
		OpportunityCost:     n.opportunityCost(product),
		PersonalizedMessage: FallbackPersonalizedMessage,
		SuggestedAction:     domain.ActionCooldown,
	}
}

func (n *Normalizer) opportunityCost(product domain.Product) domain.OpportunityCost {
	if n.calculator == nil {
		return domain.OpportunityCost{Amount: product.Price, Currency: product.Currency}
	}
	return n.calculator.Calculate(product.Price, product.Currency)
}

// coerceBool: bool as is; non-zero number; boolean-ish strings; other
// non-empty strings are truthy; everything else false.
func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "", "no", "n", "off":
			return false
		case "yes", "y", "on":
			return true
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return true
	case []any:
		return true
	case map[string]any:
		return true
	default:
		return false
	}
}

// coerceUnit: number or numeric string clamped to [0,1], bool as 1 or 0;
// def otherwise.
func coerceUnit(v any, def float64) float64 {
	var f float64
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return math.Max(0, math.Min(1, f))
}

// coerceText: non-blank string, or a formatted scalar; def otherwise.
func coerceText(v any, def string) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return def
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// coerceString is coerceText without a non-empty requirement.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func coerceWarnings(v any) []domain.Warning {
	items, ok := v.([]any)
	if !ok {
		return []domain.Warning{}
	}
	out := make([]domain.Warning, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		out = append(out, domain.Warning{
			Type:        coerceWarningType(entry["type"]),
			Confidence:  coerceUnit(entry["confidence"], DefaultWarningConfidence),
			Explanation: coerceString(entry["explanation"]),
		})
	}
	return out
}

func coerceWarningType(v any) domain.WarningType {
	s, ok := v.(string)
	if !ok {
		return DefaultWarningType
	}
	if t, valid := domain.ParseWarningType(s); valid {
		return t
	}
	return DefaultWarningType
}

func coerceAction(v any) domain.SuggestedAction {
	s, ok := v.(string)
	if !ok {
		return DefaultSuggestedAction
	}
	if a, valid := domain.ParseSuggestedAction(s); valid {
		return a
	}
	return DefaultSuggestedAction
}

package usecase

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/opportunity"
	"github.com/fairyhunter13/ai-purchase-advisor/pkg/textx"
)

const maxFieldRunes = 300

const systemPrompt = `You are a calm, non-judgmental shopping advisor. You help people notice impulse purchases and manipulative sales tactics before they buy.

Reply with a single JSON object and nothing else. No markdown, no commentary. Use exactly these fields:
{
  "isEssential": boolean,
  "essentialityScore": number between 0 and 1 (0 = pure impulse, 1 = genuine necessity),
  "reasoning": string, one or two sentences explaining the score,
  "warnings": array of {
    "type": one of "fake_discount", "urgency_manipulation", "inflated_price",
    "confidence": number between 0 and 1,
    "explanation": string
  } (use [] when nothing looks manipulative),
  "personalizedMessage": string, a short encouraging note addressed to the user,
  "suggestedAction": one of "proceed", "cooldown", "skip"
}

Guidelines:
- "fake_discount": the original price looks invented or the discount is implausible.
- "urgency_manipulation": countdowns, "only N left", or similar pressure.
- "inflated_price": the price is high for the category.
- Prefer "cooldown" when unsure.
- Do not compute investment projections; they are calculated separately.`

// BuildPrompt renders the chat messages for one analysis. It is pure and
// deterministic for equal inputs.
func BuildPrompt(product domain.Product, profile *domain.UserProfile) domain.Prompt {
	var b strings.Builder
	currency := strings.ToUpper(strings.TrimSpace(product.Currency))

	b.WriteString("Analyze this purchase.\n\nProduct:\n")
	fmt.Fprintf(&b, "- Name: %s\n", field(product.Name))
	fmt.Fprintf(&b, "- Price: %s\n", money(product.Price, currency))
	if product.OriginalPrice != nil && *product.OriginalPrice > 0 {
		fmt.Fprintf(&b, "- Original price: %s", money(*product.OriginalPrice, currency))
		if pct, ok := discountPercent(product.Price, *product.OriginalPrice); ok {
			fmt.Fprintf(&b, " (advertised discount %s%%)", pct)
		}
		b.WriteString("\n")
	}
	if c := field(product.Category); c != "" {
		fmt.Fprintf(&b, "- Category: %s\n", c)
	}
	if urgency := fields(product.UrgencyIndicators); len(urgency) > 0 {
		b.WriteString("- Urgency cues on the page:\n")
		for _, u := range urgency {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
	}

	if profile != nil {
		var p strings.Builder
		if goals := fields(profile.FinancialGoals); len(goals) > 0 {
			fmt.Fprintf(&p, "- Financial goals: %s\n", strings.Join(goals, "; "))
		}
		if profile.MonthlyBudget != nil {
			fmt.Fprintf(&p, "- Monthly discretionary budget: %s\n", money(*profile.MonthlyBudget, currency))
		}
		if profile.SavingsGoal != nil {
			fmt.Fprintf(&p, "- Savings goal: %s\n", money(*profile.SavingsGoal, currency))
		}
		if p.Len() > 0 {
			b.WriteString("\nUser profile:\n")
			b.WriteString(p.String())
		}
	}

	b.WriteString("\nRespond with the JSON object only.")
	return domain.Prompt{System: systemPrompt, User: b.String()}
}

func money(v float64, currency string) string {
	return opportunity.FormatMoney(finiteDecimal(v), currency)
}

// finiteDecimal maps NaN and infinities to zero, as the calculator does.
func finiteDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// discountPercent returns the whole-number discount of price relative to original.
func discountPercent(price, original float64) (string, bool) {
	o, p := finiteDecimal(original), finiteDecimal(price)
	if !o.IsPositive() || o.LessThanOrEqual(p) {
		return "", false
	}
	pct := o.Sub(p).Div(o).Mul(decimal.NewFromInt(100)).Round(0)
	return pct.String(), true
}

// field sanitizes user-supplied text and keeps it on one line.
func field(s string) string {
	s = textx.SanitizeText(s)
	s = strings.Join(strings.Fields(s), " ")
	return textx.Truncate(s, maxFieldRunes)
}

func fields(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := field(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Package promo validates promotional codes against a static rule table and computes
// the discount they grant. Everything here is pure.
package promo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RuleType selects how Discount is interpreted
type RuleType string

const (
	RuleTypePercentage RuleType = "percentage"
	RuleTypeFixed      RuleType = "fixed"
)

// Rule is one promotional discount policy
type Rule struct {
	Code        string   `json:"code"`
	Discount    float64  `json:"discount"`
	Type        RuleType `json:"type"`
	MinAmount   float64  `json:"minAmount"`
	MaxUses     int      `json:"maxUses"`
	Description string   `json:"description"`
}

// Reason classifies a rejected code
type Reason string

const (
	ReasonEmptyCode      Reason = "EmptyCode"
	ReasonAlreadyApplied Reason = "AlreadyApplied"
	ReasonUnknownCode    Reason = "UnknownCode"
	ReasonBelowMinimum   Reason = "BelowMinimum"
)

// Result is the outcome of Validate. On success Code is canonical and Rule is set;
// otherwise Reason and Message explain the rejection.
type Result struct {
	Valid   bool   `json:"valid"`
	Code    string `json:"code,omitempty"`
	Rule    *Rule  `json:"rule,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"error,omitempty"`
}

// rules is reference data; MaxUses is carried for display and not enforced
var rules = map[string]Rule{
	"SAVE10":   {Code: "SAVE10", Discount: 10, Type: RuleTypePercentage, MinAmount: 0, MaxUses: 100, Description: "10% off on all products"},
	"SAVE20":   {Code: "SAVE20", Discount: 20, Type: RuleTypePercentage, MinAmount: 50, MaxUses: 50, Description: "20% off on orders over $50"},
	"FLAT15":   {Code: "FLAT15", Discount: 15, Type: RuleTypeFixed, MinAmount: 30, MaxUses: 75, Description: "$15 off on orders over $30"},
	"WELCOME":  {Code: "WELCOME", Discount: 5, Type: RuleTypePercentage, MinAmount: 0, MaxUses: 200, Description: "5% welcome discount"},
	"SUMMER30": {Code: "SUMMER30", Discount: 30, Type: RuleTypePercentage, MinAmount: 100, MaxUses: 25, Description: "30% off on orders over $100"},
	"FREESHIP": {Code: "FREESHIP", Discount: 10, Type: RuleTypeFixed, MinAmount: 75, MaxUses: 100, Description: "Free shipping (save $10)"},
}

// Normalize trims and uppercases a code as typed by a shopper
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the rule for a code, normalizing it first
func Lookup(code string) (*Rule, bool) {
	rule, ok := rules[Normalize(code)]
	if !ok {
		return nil, false
	}
	return &rule, true
}

// Validate checks codeInput against the rule table for the given subtotal. appliedCode is
// the code already applied in this checkout session, or "".
func Validate(codeInput string, subtotal float64, appliedCode string) Result {
	code := Normalize(codeInput)

	if code == "" {
		return reject(ReasonEmptyCode, "Please enter a promo code")
	}

	if appliedCode != "" && Normalize(appliedCode) == code {
		return reject(ReasonAlreadyApplied, "This code is already applied")
	}

	rule, ok := rules[code]
	if !ok {
		return reject(ReasonUnknownCode, "Invalid promo code")
	}

	if subtotal < rule.MinAmount {
		return reject(ReasonBelowMinimum,
			fmt.Sprintf("Minimum order amount of $%s required for this code", strconv.FormatFloat(rule.MinAmount, 'f', -1, 64)))
	}

	return Result{Valid: true, Code: code, Rule: &rule}
}

func reject(reason Reason, message string) Result {
	return Result{Valid: false, Reason: reason, Message: message}
}

// Calculate returns the discount rule grants on subtotal. Fixed rules return their flat
// amount even when it exceeds subtotal; callers that need a floor clamp it themselves.
func Calculate(subtotal float64, rule *Rule) float64 {
	if rule == nil {
		return 0
	}

	switch rule.Type {
	case RuleTypePercentage:
		return decimal.NewFromFloat(subtotal).
			Mul(decimal.NewFromFloat(rule.Discount)).
			Div(decimal.NewFromInt(100)).
			InexactFloat64()
	case RuleTypeFixed:
		return rule.Discount
	default:
		return 0
	}
}

// Available lists every rule, sorted by code
func Available() []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

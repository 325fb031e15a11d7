package voucher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCodeInvalid is returned when the code is not present in the registry.
	ErrCodeInvalid = errors.New("discount code invalid")
	// ErrCodeExpired is returned when the code is known but its validity window has passed.
	ErrCodeExpired = errors.New("discount code expired")
)

// ExpiryLayout is the wall-clock layout used for code expiry instants in configuration.
const ExpiryLayout = "2006-01-02T15:04:05"

// Rule captures a percentage-off promotional code.
type Rule struct {
	Code      string
	Percent   decimal.Decimal
	ExpiresAt time.Time
}

// Validate ensures the rule can be applied at the provided instant.
func (r Rule) Validate(now time.Time) error {
	if !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
		return ErrCodeExpired
	}
	return nil
}

// Registry is an immutable lookup table of discount codes keyed by normalized code.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry builds a registry from the provided rules. Codes are normalized and percentages
// must be fractions in [0,1).
func NewRegistry(rules ...Rule) (*Registry, error) {
	reg := &Registry{rules: make(map[string]Rule, len(rules))}
	one := decimal.NewFromInt(1)
	for _, r := range rules {
		code := NormalizeCode(r.Code)
		if code == "" {
			return nil, errors.New("voucher: code is required")
		}
		if r.Percent.IsNegative() || r.Percent.GreaterThanOrEqual(one) {
			return nil, fmt.Errorf("voucher: percent for %s must be in [0,1), got %s", code, r.Percent)
		}
		r.Code = code
		reg.rules[code] = r
	}
	return reg, nil
}

// ParseRegistry reads entries formatted as CODE:PERCENT:EXPIRY separated by commas. EXPIRY uses
// ExpiryLayout interpreted in loc and may be omitted for codes that never expire.
func ParseRegistry(spec string, loc *time.Location) (*Registry, error) {
	if loc == nil {
		loc = time.Local
	}
	var rules []Rule
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("voucher: malformed entry %q", entry)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("voucher: parse percent for %q: %w", parts[0], err)
		}
		rule := Rule{Code: parts[0], Percent: percent}
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			expires, err := time.ParseInLocation(ExpiryLayout, strings.TrimSpace(parts[2]), loc)
			if err != nil {
				return nil, fmt.Errorf("voucher: parse expiry for %q: %w", parts[0], err)
			}
			rule.ExpiresAt = expires
		}
		rules = append(rules, rule)
	}
	return NewRegistry(rules...)
}

// Lookup normalizes the code and validates it against the registry at now.
func (r *Registry) Lookup(code string, now time.Time) (Rule, error) {
	if r == nil {
		return Rule{}, ErrCodeInvalid
	}
	rule, ok := r.rules[NormalizeCode(code)]
	if !ok {
		return Rule{}, ErrCodeInvalid
	}
	if err := rule.Validate(now); err != nil {
		return rule, err
	}
	return rule, nil
}

// Codes lists the registered codes in lexical order.
func (r *Registry) Codes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.rules))
	for code := range r.rules {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Rules returns the registered rules ordered by code.
func (r *Registry) Rules() []Rule {
	codes := r.Codes()
	out := make([]Rule, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.rules[code])
	}
	return out
}

// NormalizeCode trims and uppercases user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Message renders a customer-facing explanation for a lookup failure.
func Message(rule Rule, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCodeExpired):
		if rule.ExpiresAt.IsZero() {
			return "This code has expired"
		}
		return fmt.Sprintf("This code expired on %s", rule.ExpiresAt.Format("January 2, 2006"))
	default:
		return "Invalid or expired code"
	}
}

package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/config"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
)

// Rule ids of the compiled-in rules.
const (
	RuleIDZeroPrice       = "builtin:zero_price"
	RuleIDKeyword         = "builtin:keyword"
	RuleIDBrandExclusion  = "builtin:brand_exclusion"
	RuleIDLowPriceKeyword = "builtin:low_price_keyword"
)

const fallbackReason = "classification error — defaulted to merchandise"

const lowPriceCeiling = 1000

// rule is one evaluation step. asserted=false means the rule abstains and
// evaluation falls through to the next rule.
type rule struct {
	id       string
	priority int
	eval     func(line classifierdomain.Line) (classifierdomain.Verdict, bool)
}

// Engine evaluates a fixed, ordered rule set. It holds no mutable state:
// identical inputs always yield identical verdicts.
type Engine struct {
	rules []rule

	// CompileErrors lists tenant rules that could not be compiled and were
	// left out of the set. The caller decides whether to log them.
	CompileErrors []error
}

// New merges the compiled-in rules with tenant rules and sorts the set by
// (priority, rule id).
func New(cfg config.RuleConfig, tenantRules []classifierdomain.ClassificationRule) *Engine {
	e := &Engine{}
	e.rules = builtinRules(cfg)
	for _, tr := range tenantRules {
		if !tr.Enabled {
			continue
		}
		compiled, err := compileTenantRule(tr)
		if err != nil {
			e.CompileErrors = append(e.CompileErrors, err)
			continue
		}
		e.rules = append(e.rules, compiled)
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].priority != e.rules[j].priority {
			return e.rules[i].priority < e.rules[j].priority
		}
		return e.rules[i].id < e.rules[j].id
	})
	return e
}

// Evaluate returns the verdict of the first asserting rule, or the default
// merchandise verdict. A panic inside a rule downgrades the line to
// merchandise with zero confidence instead of failing the batch.
func (e *Engine) Evaluate(line classifierdomain.Line) (verdict classifierdomain.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = classifierdomain.Verdict{
				Kind:          syncdomain.KindMerchandise,
				IsRevenue:     true,
				Reason:        fallbackReason,
				Confidence:    0,
				RevenueImpact: line.SupplyPrice,
			}
		}
	}()

	for _, r := range e.rules {
		if v, asserted := r.eval(line); asserted {
			if v.Kind == syncdomain.KindMerchandise {
				v.IsRevenue = true
				v.RevenueImpact = line.SupplyPrice
			}
			return v
		}
	}
	return classifierdomain.Merchandise(line)
}

func builtinRules(cfg config.RuleConfig) []rule {
	keywords := lowerAll(cfg.GiftKeywords)
	lowPriceKeywords := lowerAll(cfg.LowPriceKeywords)
	excluded := lowerAll(cfg.ExcludedBrands)

	excludedBrand := func(line classifierdomain.Line) bool {
		return containsAny(line.BrandName, excluded)
	}

	return []rule{
		{
			id:       RuleIDZeroPrice,
			priority: 1,
			eval: func(line classifierdomain.Line) (classifierdomain.Verdict, bool) {
				if line.SupplyPrice == 0 && line.SellPrice == 0 {
					return classifierdomain.Gift(syncdomain.GiftTypeZeroPrice, RuleIDZeroPrice, "zero-valued line", 1.0), true
				}
				return classifierdomain.Verdict{}, false
			},
		},
		{
			id:       RuleIDKeyword,
			priority: 2,
			eval: func(line classifierdomain.Line) (classifierdomain.Verdict, bool) {
				// Excluded brands never classify as gifts on keywords alone.
				if excludedBrand(line) {
					return classifierdomain.Verdict{}, false
				}
				if kw, ok := matchAny(line.ProductName, keywords); ok {
					reason := fmt.Sprintf("gift keyword %q in product name", kw)
					return classifierdomain.Gift(syncdomain.GiftTypeKeyword, RuleIDKeyword, reason, 0.9), true
				}
				return classifierdomain.Verdict{}, false
			},
		},
		{
			id:       RuleIDBrandExclusion,
			priority: 3,
			eval: func(line classifierdomain.Line) (classifierdomain.Verdict, bool) {
				if !excludedBrand(line) {
					return classifierdomain.Verdict{}, false
				}
				return classifierdomain.Verdict{
					Kind:       syncdomain.KindMerchandise,
					RuleID:     RuleIDBrandExclusion,
					Reason:     "excluded brand",
					Confidence: 1.0,
				}, true
			},
		},
		{
			id:       RuleIDLowPriceKeyword,
			priority: 4,
			eval: func(line classifierdomain.Line) (classifierdomain.Verdict, bool) {
				if excludedBrand(line) {
					return classifierdomain.Verdict{}, false
				}
				if line.SupplyPrice < 1 || line.SupplyPrice > lowPriceCeiling {
					return classifierdomain.Verdict{}, false
				}
				if kw, ok := matchAny(line.ProductName, lowPriceKeywords); ok {
					reason := fmt.Sprintf("low-priced giveaway keyword %q", kw)
					return classifierdomain.Gift(syncdomain.GiftTypeZeroPrice, RuleIDLowPriceKeyword, reason, 0.7), true
				}
				return classifierdomain.Verdict{}, false
			},
		},
	}
}

func compileTenantRule(tr classifierdomain.ClassificationRule) (rule, error) {
	keywords, err := decodeStrings(tr.Keywords)
	if err != nil {
		return rule{}, fmt.Errorf("rule %s: keywords: %w", tr.RuleID, err)
	}
	keywords = lowerAll(keywords)

	excluded, err := decodeStrings(tr.ExcludedBrands)
	if err != nil {
		return rule{}, fmt.Errorf("rule %s: excluded brands: %w", tr.RuleID, err)
	}
	excluded = lowerAll(excluded)

	var pattern *regexp.Regexp
	if tr.Kind == classifierdomain.RulePattern {
		pattern, err = regexp.Compile(tr.Pattern)
		if err != nil {
			return rule{}, fmt.Errorf("rule %s: %w: %v", tr.RuleID, classifierdomain.ErrInvalidPattern, err)
		}
	}

	giftType, err := giftTypeFor(tr.Kind)
	if err != nil {
		return rule{}, fmt.Errorf("rule %s: %w", tr.RuleID, err)
	}

	ruleID := tr.RuleID
	reason := tr.Reason
	confidence := tr.Confidence
	priceMin, priceMax := tr.PriceMin, tr.PriceMax
	kind := tr.Kind

	return rule{
		id:       ruleID,
		priority: tr.Priority,
		eval: func(line classifierdomain.Line) (classifierdomain.Verdict, bool) {
			if containsAny(line.BrandName, excluded) {
				return classifierdomain.Verdict{}, false
			}
			if priceMax > 0 && (line.SupplyPrice < priceMin || line.SupplyPrice > priceMax) {
				return classifierdomain.Verdict{}, false
			}
			switch kind {
			case classifierdomain.RuleZeroPrice:
				if line.SupplyPrice != 0 || line.SellPrice != 0 {
					return classifierdomain.Verdict{}, false
				}
			case classifierdomain.RuleKeyword:
				if _, ok := matchAny(line.ProductName, keywords); !ok {
					return classifierdomain.Verdict{}, false
				}
			case classifierdomain.RulePattern:
				if !pattern.MatchString(line.ProductName) {
					return classifierdomain.Verdict{}, false
				}
			}
			return classifierdomain.Gift(giftType, ruleID, reason, confidence), true
		},
	}, nil
}

func giftTypeFor(kind classifierdomain.RuleKind) (syncdomain.GiftType, error) {
	switch kind {
	case classifierdomain.RuleZeroPrice:
		return syncdomain.GiftTypeZeroPrice, nil
	case classifierdomain.RuleKeyword:
		return syncdomain.GiftTypeKeyword, nil
	case classifierdomain.RulePattern:
		return syncdomain.GiftTypePattern, nil
	default:
		return syncdomain.GiftTypeNone, classifierdomain.ErrInvalidRuleKind
	}
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}

// matchAny reports the first needle found as a case-insensitive substring.
func matchAny(haystack string, needles []string) (string, bool) {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(h, n) {
			return n, true
		}
	}
	return "", false
}

func containsAny(haystack string, needles []string) bool {
	_, ok := matchAny(haystack, needles)
	return ok
}

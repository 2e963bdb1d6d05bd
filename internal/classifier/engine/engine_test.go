package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/config"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
)

func defaultEngine(t *testing.T, tenantRules ...classifierdomain.ClassificationRule) *Engine {
	t.Helper()
	e := New(config.DefaultRuleConfig(), tenantRules)
	require.Empty(t, e.CompileErrors)
	return e
}

func TestZeroValuedLineIsGift(t *testing.T) {
	e := defaultEngine(t)
	v := e.Evaluate(classifierdomain.Line{ProductName: "스트랩", SupplyPrice: 0, SellPrice: 0, BrandName: "A"})

	assert.Equal(t, syncdomain.KindGift, v.Kind)
	assert.Equal(t, syncdomain.GiftTypeZeroPrice, v.GiftType)
	assert.Equal(t, "zero-valued line", v.Reason)
	assert.Equal(t, 1.0, v.Confidence)
	assert.False(t, v.IsRevenue)
	assert.Equal(t, int64(0), v.RevenueImpact)
}

func TestGiftKeywordInName(t *testing.T) {
	e := defaultEngine(t)
	v := e.Evaluate(classifierdomain.Line{ProductName: "스트랩 사은품", SupplyPrice: 1500, SellPrice: 2000, BrandName: "기타"})

	assert.Equal(t, syncdomain.KindGift, v.Kind)
	assert.Equal(t, syncdomain.GiftTypeKeyword, v.GiftType)
	assert.Equal(t, 0.9, v.Confidence)
	assert.Equal(t, int64(0), v.RevenueImpact)
	assert.Equal(t, RuleIDKeyword, v.RuleID)
}

func TestExcludedBrandStaysMerchandiseDespiteKeyword(t *testing.T) {
	e := defaultEngine(t)
	v := e.Evaluate(classifierdomain.Line{ProductName: "조이 사은품 패키지", SupplyPrice: 1500, SellPrice: 2000, BrandName: "조이"})

	assert.Equal(t, syncdomain.KindMerchandise, v.Kind)
	assert.True(t, v.IsRevenue)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, int64(1500), v.RevenueImpact)
	assert.Equal(t, RuleIDBrandExclusion, v.RuleID)
}

func TestExcludedBrandDoesNotBlockZeroPrice(t *testing.T) {
	e := defaultEngine(t)
	v := e.Evaluate(classifierdomain.Line{ProductName: "조이 증정", SupplyPrice: 0, SellPrice: 0, BrandName: "조이"})

	assert.Equal(t, syncdomain.KindGift, v.Kind)
	assert.Equal(t, syncdomain.GiftTypeZeroPrice, v.GiftType)
}

func TestLowPriceKeywordSubset(t *testing.T) {
	e := defaultEngine(t)

	v := e.Evaluate(classifierdomain.Line{ProductName: "견본 파우치", SupplyPrice: 800, SellPrice: 1000, BrandName: "기타"})
	assert.Equal(t, syncdomain.KindGift, v.Kind)
	assert.Equal(t, syncdomain.GiftTypeZeroPrice, v.GiftType)
	assert.Equal(t, 0.7, v.Confidence)
	assert.Equal(t, RuleIDLowPriceKeyword, v.RuleID)

	// Above the ceiling the same name is merchandise.
	v = e.Evaluate(classifierdomain.Line{ProductName: "견본 파우치", SupplyPrice: 5000, SellPrice: 8000, BrandName: "기타"})
	assert.Equal(t, syncdomain.KindMerchandise, v.Kind)
	assert.Equal(t, int64(5000), v.RevenueImpact)
}

func TestDefaultVerdictIsMerchandise(t *testing.T) {
	e := defaultEngine(t)
	v := e.Evaluate(classifierdomain.Line{ProductName: "유모차", SupplyPrice: 250000, SellPrice: 390000, BrandName: "기타"})

	assert.Equal(t, syncdomain.KindMerchandise, v.Kind)
	assert.True(t, v.IsRevenue)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, int64(250000), v.RevenueImpact)
	assert.Empty(t, v.RuleID)
}

func TestTenantPatternRule(t *testing.T) {
	e := defaultEngine(t, classifierdomain.ClassificationRule{
		RuleID:     "promo-suffix",
		Priority:   2,
		Kind:       classifierdomain.RulePattern,
		Enabled:    true,
		Pattern:    `\(행사\)$`,
		Reason:     "promotional suffix",
		Confidence: 0.8,
	})

	v := e.Evaluate(classifierdomain.Line{ProductName: "물티슈 (행사)", SupplyPrice: 3000, SellPrice: 4000})
	assert.Equal(t, syncdomain.KindGift, v.Kind)
	assert.Equal(t, syncdomain.GiftTypePattern, v.GiftType)
	assert.Equal(t, "promo-suffix", v.RuleID)
	assert.Equal(t, "promotional suffix", v.Reason)
}

func TestTenantRuleOrderingByPriorityThenID(t *testing.T) {
	// Both rules match; the lower rule id wins at equal priority.
	mk := func(ruleID string) classifierdomain.ClassificationRule {
		return classifierdomain.ClassificationRule{
			RuleID:     ruleID,
			Priority:   0,
			Kind:       classifierdomain.RuleKeyword,
			Enabled:    true,
			Keywords:   datatypes.JSON(`["물티슈"]`),
			Reason:     ruleID,
			Confidence: 0.5,
		}
	}
	e := defaultEngine(t, mk("b-rule"), mk("a-rule"))

	v := e.Evaluate(classifierdomain.Line{ProductName: "물티슈", SupplyPrice: 100, SellPrice: 100})
	assert.Equal(t, "a-rule", v.RuleID)
}

func TestBadPatternIsReportedAndSkipped(t *testing.T) {
	e := New(config.DefaultRuleConfig(), []classifierdomain.ClassificationRule{{
		RuleID:   "broken",
		Priority: 1,
		Kind:     classifierdomain.RulePattern,
		Enabled:  true,
		Pattern:  `([`,
	}})
	require.Len(t, e.CompileErrors, 1)

	// The broken rule is absent; evaluation still works.
	v := e.Evaluate(classifierdomain.Line{ProductName: "유모차", SupplyPrice: 1000, SellPrice: 2000})
	assert.Equal(t, syncdomain.KindMerchandise, v.Kind)
}

func TestPanicInsideRuleDowngradesToMerchandise(t *testing.T) {
	e := defaultEngine(t)
	e.rules = append([]rule{{
		id:       "exploding",
		priority: 0,
		eval: func(classifierdomain.Line) (classifierdomain.Verdict, bool) {
			panic("boom")
		},
	}}, e.rules...)

	v := e.Evaluate(classifierdomain.Line{ProductName: "스트랩", SupplyPrice: 1500, SellPrice: 2000})
	assert.Equal(t, syncdomain.KindMerchandise, v.Kind)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, "classification error — defaulted to merchandise", v.Reason)
	assert.Equal(t, int64(1500), v.RevenueImpact)
}

func TestEvaluationIsPure(t *testing.T) {
	e := defaultEngine(t)
	line := classifierdomain.Line{ProductName: "스트랩 사은품", SupplyPrice: 1500, SellPrice: 2000, BrandName: "기타"}

	first := e.Evaluate(line)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, e.Evaluate(line))
	}
}

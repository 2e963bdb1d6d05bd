package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	"gorm.io/datatypes"
)

// Line is the classifier's view of one product line. Evaluation depends on
// nothing else.
type Line struct {
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	SupplyPrice int64  `json:"supply_price"`
	SellPrice   int64  `json:"sell_price"`
	BrandCode   string `json:"brand_code"`
	BrandName   string `json:"brand_name"`
}

// Verdict is the outcome of evaluating one line against the rule set.
// GIFT forces IsRevenue false and RevenueImpact zero; MERCHANDISE carries
// the supply price as revenue impact.
type Verdict struct {
	Kind          syncdomain.Kind     `json:"kind"`
	IsRevenue     bool                `json:"is_revenue"`
	GiftType      syncdomain.GiftType `json:"gift_type"`
	Reason        string              `json:"reason"`
	Confidence    float64             `json:"confidence"`
	RuleID        string              `json:"rule_id"`
	RevenueImpact int64               `json:"revenue_impact"`
}

// Merchandise builds the default verdict for a line no rule claimed.
func Merchandise(line Line) Verdict {
	return Verdict{
		Kind:          syncdomain.KindMerchandise,
		IsRevenue:     true,
		Confidence:    1.0,
		RevenueImpact: line.SupplyPrice,
	}
}

// Gift builds a gift verdict; revenue impact is always zero.
func Gift(giftType syncdomain.GiftType, ruleID, reason string, confidence float64) Verdict {
	return Verdict{
		Kind:       syncdomain.KindGift,
		IsRevenue:  false,
		GiftType:   giftType,
		Reason:     reason,
		Confidence: confidence,
		RuleID:     ruleID,
	}
}

// RuleKind selects the predicate shape of a tenant rule.
type RuleKind string

const (
	RuleZeroPrice RuleKind = "ZERO_PRICE"
	RuleKeyword   RuleKind = "KEYWORD"
	RulePattern   RuleKind = "PATTERN"
)

func ValidRuleKind(k RuleKind) bool {
	switch k {
	case RuleZeroPrice, RuleKeyword, RulePattern:
		return true
	default:
		return false
	}
}

// ClassificationRule is a tenant-authored rule. Rule ids are unique within
// a tenant; evaluation order over the merged rule set is (priority, rule id).
type ClassificationRule struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_rules_tenant_rule,priority:1"`
	RuleID          string         `json:"rule_id" gorm:"type:text;not null;uniqueIndex:ux_rules_tenant_rule,priority:2"`
	Priority        int            `json:"priority" gorm:"not null;default:100"`
	Kind            RuleKind       `json:"kind" gorm:"type:text;not null"`
	Enabled         bool           `json:"enabled" gorm:"not null;default:true"`
	Keywords        datatypes.JSON `json:"keywords"`
	Pattern         string         `json:"pattern" gorm:"type:text"`
	PriceMin        int64          `json:"price_min" gorm:"not null;default:0"`
	PriceMax        int64          `json:"price_max" gorm:"not null;default:0"`
	ExcludedBrands  datatypes.JSON `json:"excluded_brands"`
	Reason          string         `json:"reason" gorm:"type:text"`
	Confidence      float64        `json:"confidence" gorm:"not null;default:1"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ClassificationRule) TableName() string { return "classification_rules" }

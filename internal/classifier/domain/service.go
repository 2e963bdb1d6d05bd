package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidRuleID     = errors.New("rule id is required")
	ErrInvalidRuleKind   = errors.New("unknown rule kind")
	ErrInvalidConfidence = errors.New("confidence must be within [0, 1]")
	ErrInvalidPattern    = errors.New("pattern does not compile")
	ErrInvalidPriceBand  = errors.New("price window must satisfy min <= max")
)

// Repository stores tenant-authored classification rules.
type Repository interface {
	ListEnabled(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]ClassificationRule, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]ClassificationRule, error)
	Save(ctx context.Context, db *gorm.DB, rule *ClassificationRule) error
	Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ruleID string) error
}

// TestReport is the dry-run summary of TestRules. Nothing is persisted.
type TestReport struct {
	Total    int            `json:"total"`
	Gifts    int            `json:"gifts"`
	Revenue  int64          `json:"revenue"`
	PerRule  map[string]int `json:"per_rule"`
	Verdicts []Verdict      `json:"verdicts"`
}

// SaveRuleRequest carries a rule upsert from the control surface.
type SaveRuleRequest struct {
	TenantID       snowflake.ID `json:"tenant_id"`
	RuleID         string       `json:"rule_id"`
	Priority       int          `json:"priority"`
	Kind           RuleKind     `json:"kind"`
	Enabled        bool         `json:"enabled"`
	Keywords       []string     `json:"keywords"`
	Pattern        string       `json:"pattern"`
	PriceMin       int64        `json:"price_min"`
	PriceMax       int64        `json:"price_max"`
	ExcludedBrands []string     `json:"excluded_brands"`
	Reason         string       `json:"reason"`
	Confidence     float64      `json:"confidence"`
}

// Service is the classification facade used by the orchestrator and the
// control surface.
type Service interface {
	// ClassifyLines evaluates every line and writes the verdict back into
	// the slice. It performs no persistence.
	ClassifyLines(ctx context.Context, tenantID snowflake.ID, lines []syncdomain.VendorOrderLine) ([]Verdict, error)

	// ReclassifyRecent re-evaluates unclassified lines ingested within the
	// window and rewrites them in place, appending an audit batch at the end.
	ReclassifyRecent(ctx context.Context, tenantID snowflake.ID, days int) (int, error)

	// TestRules runs the current rule set against supplied lines without
	// touching storage.
	TestRules(ctx context.Context, tenantID snowflake.ID, lines []Line) (*TestReport, error)

	SaveRule(ctx context.Context, req SaveRuleRequest) (*ClassificationRule, error)
	ListRules(ctx context.Context, tenantID snowflake.ID) ([]ClassificationRule, error)
	DeleteRule(ctx context.Context, tenantID snowflake.ID, ruleID string) error
}

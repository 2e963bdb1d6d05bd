package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() classifierdomain.Repository {
	return &repo{}
}

const ruleColumns = `id, tenant_id, rule_id, priority, kind, enabled, keywords, pattern,
	price_min, price_max, excluded_brands, reason, confidence, created_at, updated_at`

func (r *repo) ListEnabled(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]classifierdomain.ClassificationRule, error) {
	var rules []classifierdomain.ClassificationRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+` FROM classification_rules
		 WHERE tenant_id = ? AND enabled = ?
		 ORDER BY priority ASC, rule_id ASC`,
		tenantID, true,
	).Scan(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]classifierdomain.ClassificationRule, error) {
	var rules []classifierdomain.ClassificationRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+` FROM classification_rules
		 WHERE tenant_id = ?
		 ORDER BY priority ASC, rule_id ASC`,
		tenantID,
	).Scan(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Save inserts or overwrites by (tenant_id, rule_id).
func (r *repo) Save(ctx context.Context, db *gorm.DB, rule *classifierdomain.ClassificationRule) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing snowflake.ID
		err := tx.Raw(
			`SELECT id FROM classification_rules WHERE tenant_id = ? AND rule_id = ?`,
			rule.TenantID, rule.RuleID,
		).Scan(&existing).Error
		if err != nil {
			return err
		}
		if existing != 0 {
			rule.ID = existing
			return tx.Exec(
				`UPDATE classification_rules
				 SET priority = ?, kind = ?, enabled = ?, keywords = ?, pattern = ?,
				     price_min = ?, price_max = ?, excluded_brands = ?, reason = ?, confidence = ?, updated_at = ?
				 WHERE id = ?`,
				rule.Priority, rule.Kind, rule.Enabled, rule.Keywords, rule.Pattern,
				rule.PriceMin, rule.PriceMax, rule.ExcludedBrands, rule.Reason, rule.Confidence, rule.UpdatedAt,
				existing,
			).Error
		}
		return tx.Exec(
			`INSERT INTO classification_rules
			 (id, tenant_id, rule_id, priority, kind, enabled, keywords, pattern,
			  price_min, price_max, excluded_brands, reason, confidence, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.TenantID, rule.RuleID, rule.Priority, rule.Kind, rule.Enabled, rule.Keywords, rule.Pattern,
			rule.PriceMin, rule.PriceMax, rule.ExcludedBrands, rule.Reason, rule.Confidence, rule.CreatedAt, rule.UpdatedAt,
		).Error
	})
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ruleID string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM classification_rules WHERE tenant_id = ? AND rule_id = ?`,
		tenantID, ruleID,
	).Error
}

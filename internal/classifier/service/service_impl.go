package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/classifier/engine"
	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	obsmetrics "github.com/smallbiznis/erpsync/internal/observability/metrics"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Rules    *config.RuleConfigHolder
	Repo     classifierdomain.Repository
	SyncRepo syncdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clk      clock.Clock
	rules    *config.RuleConfigHolder
	repo     classifierdomain.Repository
	syncRepo syncdomain.Repository
}

func New(p Params) classifierdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("classifier.service"),
		genID:    p.GenID,
		clk:      p.Clock,
		rules:    p.Rules,
		repo:     p.Repo,
		syncRepo: p.SyncRepo,
	}
}

// engineFor snapshots the keyword config and the tenant's enabled rules
// into one immutable engine.
func (s *Service) engineFor(ctx context.Context, tenantID snowflake.ID) (*engine.Engine, error) {
	tenantRules, err := s.repo.ListEnabled(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	eng := engine.New(s.rules.Get(), tenantRules)
	for _, cerr := range eng.CompileErrors {
		s.log.Warn("tenant rule skipped",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(cerr),
		)
	}
	return eng, nil
}

func lineInput(l syncdomain.VendorOrderLine) classifierdomain.Line {
	return classifierdomain.Line{
		ProductCode: l.ProductCode,
		ProductName: l.ProductName,
		Quantity:    l.Quantity,
		SupplyPrice: l.SupplyPrice,
		SellPrice:   l.SellPrice,
		BrandCode:   l.BrandCode,
		BrandName:   l.BrandName,
	}
}

func applyVerdict(l *syncdomain.VendorOrderLine, v classifierdomain.Verdict) {
	l.Kind = v.Kind
	l.IsRevenue = v.IsRevenue
	l.GiftType = v.GiftType
	l.ClassificationReason = v.Reason
	l.Confidence = v.Confidence
	l.RuleID = v.RuleID
	l.RevenueImpact = v.RevenueImpact
}

func (s *Service) ClassifyLines(ctx context.Context, tenantID snowflake.ID, lines []syncdomain.VendorOrderLine) ([]classifierdomain.Verdict, error) {
	eng, err := s.engineFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	verdicts := make([]classifierdomain.Verdict, len(lines))
	for i := range lines {
		v := eng.Evaluate(lineInput(lines[i]))
		applyVerdict(&lines[i], v)
		verdicts[i] = v
		obsmetrics.Sync().IncVerdict(string(v.Kind), string(v.GiftType))
	}
	return verdicts, nil
}

func (s *Service) ReclassifyRecent(ctx context.Context, tenantID snowflake.ID, days int) (int, error) {
	if days <= 0 {
		days = 120
	}
	eng, err := s.engineFor(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	since := s.clk.Now().AddDate(0, 0, -days)
	var (
		count int
		audit []syncdomain.ClassificationLogEntry
	)
	err = s.syncRepo.IterUnclassified(ctx, s.db, tenantID, since, func(lines []syncdomain.VendorOrderLine) error {
		for i := range lines {
			v := eng.Evaluate(lineInput(lines[i]))
			applyVerdict(&lines[i], v)
			if err := s.syncRepo.UpdateLineClassification(ctx, s.db, &lines[i]); err != nil {
				return err
			}
			count++
			obsmetrics.Sync().IncVerdict(string(v.Kind), string(v.GiftType))
			audit = append(audit, syncdomain.ClassificationLogEntry{
				TenantID:   tenantID,
				SlNo:       lines[i].SlNo,
				LineSeq:    lines[i].LineSeq,
				Kind:       v.Kind,
				GiftType:   v.GiftType,
				RuleID:     v.RuleID,
				Reason:     v.Reason,
				Confidence: v.Confidence,
			})
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	// Audit batch lands after evaluation, never during it.
	if err := s.syncRepo.AppendClassificationLog(ctx, s.db, audit); err != nil {
		return count, err
	}

	s.log.Info("reclassified recent lines",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("days", days),
		zap.Int("count", count),
	)
	return count, nil
}

func (s *Service) TestRules(ctx context.Context, tenantID snowflake.ID, lines []classifierdomain.Line) (*classifierdomain.TestReport, error) {
	eng, err := s.engineFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &classifierdomain.TestReport{
		Total:   len(lines),
		PerRule: map[string]int{},
	}
	for _, line := range lines {
		v := eng.Evaluate(line)
		report.Verdicts = append(report.Verdicts, v)
		if v.Kind == syncdomain.KindGift {
			report.Gifts++
		} else {
			report.Revenue += v.RevenueImpact
		}
		if v.RuleID != "" {
			report.PerRule[v.RuleID]++
		}
	}
	return report, nil
}

func (s *Service) SaveRule(ctx context.Context, req classifierdomain.SaveRuleRequest) (*classifierdomain.ClassificationRule, error) {
	ruleID := strings.TrimSpace(req.RuleID)
	if ruleID == "" {
		return nil, classifierdomain.ErrInvalidRuleID
	}
	if !classifierdomain.ValidRuleKind(req.Kind) {
		return nil, classifierdomain.ErrInvalidRuleKind
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, classifierdomain.ErrInvalidConfidence
	}
	if req.PriceMax > 0 && req.PriceMin > req.PriceMax {
		return nil, classifierdomain.ErrInvalidPriceBand
	}
	if req.Kind == classifierdomain.RulePattern {
		if _, err := regexp.Compile(req.Pattern); err != nil {
			return nil, classifierdomain.ErrInvalidPattern
		}
	}

	keywords, err := encodeStrings(req.Keywords)
	if err != nil {
		return nil, err
	}
	excluded, err := encodeStrings(req.ExcludedBrands)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	rule := &classifierdomain.ClassificationRule{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		RuleID:         ruleID,
		Priority:       req.Priority,
		Kind:           req.Kind,
		Enabled:        req.Enabled,
		Keywords:       keywords,
		Pattern:        req.Pattern,
		PriceMin:       req.PriceMin,
		PriceMax:       req.PriceMax,
		ExcludedBrands: excluded,
		Reason:         req.Reason,
		Confidence:     req.Confidence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Save(ctx, s.db, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, tenantID snowflake.ID) ([]classifierdomain.ClassificationRule, error) {
	return s.repo.List(ctx, s.db, tenantID)
}

func (s *Service) DeleteRule(ctx context.Context, tenantID snowflake.ID, ruleID string) error {
	return s.repo.Delete(ctx, s.db, tenantID, strings.TrimSpace(ruleID))
}

func encodeStrings(in []string) (datatypes.JSON, error) {
	if len(in) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

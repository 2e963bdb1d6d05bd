package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/erpsync/internal/config"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"github.com/smallbiznis/erpsync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  tenantdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  tenantdomain.Repository
	genID *snowflake.Node
}

func New(p Params) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateRequest) (*tenantdomain.Tenant, error) {
	// Codes are stored slugified so lookups and URL paths stay
	// case- and whitespace-insensitive.
	code := slug.Make(req.Code)
	if code == "" {
		return nil, tenantdomain.ErrInvalidCode
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidName
	}

	adminCode := strings.TrimSpace(req.AdminCode)
	password := strings.TrimSpace(req.Password)
	if adminCode == "" || password == "" {
		return nil, tenantdomain.ErrInvalidCredentials
	}

	steps, err := encodeSteps(req.Steps)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &tenantdomain.Tenant{
		ID:               s.genID.Generate(),
		Code:             code,
		Name:             name,
		Active:           true,
		AdminCode:        adminCode,
		Password:         password,
		CallIntervalSecs: clampIntervalSecs(req.CallIntervalSecs),
		Steps:            steps,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Insert(ctx, s.db, t); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tenantdomain.ErrDuplicateCode
		}
		return nil, err
	}

	return t, nil
}

func (s *Service) Update(ctx context.Context, req tenantdomain.UpdateRequest) (*tenantdomain.Tenant, error) {
	id, err := tenantdomain.ParseID(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, tenantdomain.ErrInvalidID
	}

	t, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, tenantdomain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, tenantdomain.ErrInvalidName
		}
		t.Name = name
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if req.AdminCode != nil {
		adminCode := strings.TrimSpace(*req.AdminCode)
		if adminCode == "" {
			return nil, tenantdomain.ErrInvalidCredentials
		}
		t.AdminCode = adminCode
	}
	if req.Password != nil {
		password := strings.TrimSpace(*req.Password)
		if password == "" {
			return nil, tenantdomain.ErrInvalidCredentials
		}
		t.Password = password
	}
	if req.CallIntervalSecs != nil {
		t.CallIntervalSecs = clampIntervalSecs(*req.CallIntervalSecs)
	}
	if req.Steps != nil {
		steps, err := encodeSteps(req.Steps)
		if err != nil {
			return nil, err
		}
		t.Steps = steps
	}

	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, t); err != nil {
		return nil, err
	}

	return t, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	t, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, tenantdomain.ErrNotFound
	}
	return t, nil
}

func (s *Service) ListActive(ctx context.Context) ([]tenantdomain.Tenant, error) {
	return s.repo.ListActive(ctx, s.db)
}

func (s *Service) StepList(t *tenantdomain.Tenant) []tenantdomain.Step {
	if t == nil || len(t.Steps) == 0 {
		return append([]tenantdomain.Step(nil), tenantdomain.DefaultSteps...)
	}
	var steps []tenantdomain.Step
	if err := json.Unmarshal(t.Steps, &steps); err != nil || len(steps) == 0 {
		s.log.Warn("tenant step list unreadable, using defaults",
			zap.String("tenant_id", t.ID.String()),
		)
		return append([]tenantdomain.Step(nil), tenantdomain.DefaultSteps...)
	}
	return steps
}

func encodeSteps(steps []tenantdomain.Step) (datatypes.JSON, error) {
	if len(steps) == 0 {
		steps = tenantdomain.DefaultSteps
	}
	for _, step := range steps {
		if !tenantdomain.ValidStep(step) {
			return nil, tenantdomain.ErrInvalidStepList
		}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return nil, tenantdomain.ErrInvalidStepList
	}
	return datatypes.JSON(raw), nil
}

func clampIntervalSecs(secs int) int {
	if secs <= 0 {
		return 0 // process default applies
	}
	min := int(config.MinCallInterval / time.Second)
	max := int(config.MaxCallInterval / time.Second)
	if secs < min {
		return min
	}
	if secs > max {
		return max
	}
	return secs
}

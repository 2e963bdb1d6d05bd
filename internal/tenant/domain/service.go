package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Tenant, error)
	Update(ctx context.Context, req UpdateRequest) (*Tenant, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
	// StepList decodes the tenant's ordered step list, falling back to the
	// default order when unset.
	StepList(tenant *Tenant) []Step
}

type CreateRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	AdminCode        string `json:"admin_code"`
	Password         string `json:"password"`
	CallIntervalSecs int    `json:"call_interval_secs"`
	Steps            []Step `json:"steps"`
}

type UpdateRequest struct {
	ID               string  `json:"id"`
	Name             *string `json:"name,omitempty"`
	Active           *bool   `json:"active,omitempty"`
	AdminCode        *string `json:"admin_code,omitempty"`
	Password         *string `json:"password,omitempty"`
	CallIntervalSecs *int    `json:"call_interval_secs,omitempty"`
	Steps            []Step  `json:"steps,omitempty"`
}

var (
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidStepList    = errors.New("invalid_step_list")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidID          = errors.New("invalid_id")
	ErrDuplicateCode      = errors.New("duplicate_code")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}

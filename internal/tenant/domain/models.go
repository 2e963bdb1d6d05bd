package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Step identifies one unit of work inside a sync job. The set is closed;
// the orchestrator maps each step to one vendor mode.
type Step string

const (
	StepCustomers Step = "customers"
	StepStock     Step = "stock"
	StepGoods     Step = "goods"
	StepSales     Step = "sales"
)

// DefaultSteps is the canonical execution order.
var DefaultSteps = []Step{StepCustomers, StepStock, StepGoods, StepSales}

func ValidStep(s Step) bool {
	switch s {
	case StepCustomers, StepStock, StepGoods, StepSales:
		return true
	default:
		return false
	}
}

// Tenant is an isolated business entity with its own vendor credentials and
// data partition. At most one active credential set per tenant.
type Tenant struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	Code             string         `json:"code" gorm:"type:text;not null;uniqueIndex:ux_tenants_code"`
	Name             string         `json:"name" gorm:"type:text;not null"`
	Active           bool           `json:"active" gorm:"not null;default:true"`
	AdminCode        string         `json:"admin_code" gorm:"type:text;not null"`
	Password         string         `json:"-" gorm:"type:text;not null"`
	CallIntervalSecs int            `json:"call_interval_secs" gorm:"not null;default:0"`
	Steps            datatypes.JSON `json:"steps" gorm:"not null"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Tenant) TableName() string { return "tenants" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind is the classification outcome for one order line.
type Kind string

const (
	KindMerchandise Kind = "MERCHANDISE"
	KindGift        Kind = "GIFT"
)

// GiftType qualifies a GIFT verdict. Empty for merchandise.
type GiftType string

const (
	GiftTypeNone      GiftType = ""
	GiftTypeZeroPrice GiftType = "ZERO_PRICE"
	GiftTypeKeyword   GiftType = "KEYWORD"
	GiftTypePattern   GiftType = "PATTERN"
	GiftTypeMaster    GiftType = "MASTER"
)

// VendorOrderHeader is one order as reported by the vendor. Keyed by
// (tenant, sl_no); re-ingestion of the same key overwrites all non-key
// fields. Rows are never deleted by the sync pipeline.
type VendorOrderHeader struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_order_headers_nk,priority:1"`
	SlNo        string       `json:"sl_no" gorm:"type:text;not null;uniqueIndex:ux_order_headers_nk,priority:2"`
	SiteCode    string       `json:"site_code" gorm:"type:text"`
	SiteKeyCode string       `json:"site_key_code" gorm:"type:text"`
	ChannelCode string       `json:"channel_code" gorm:"type:text"`
	OrderNo     string       `json:"order_no" gorm:"type:text"`
	BuyerName   string       `json:"buyer_name" gorm:"type:text"`
	BuyerTel    string       `json:"buyer_tel" gorm:"type:text"`
	BuyerMobile string       `json:"buyer_mobile" gorm:"type:text"`
	BuyerAddr   string       `json:"buyer_addr" gorm:"type:text"`
	OrderedAt   time.Time    `json:"ordered_at"`
	DeliveryFee int64        `json:"delivery_fee" gorm:"not null;default:0"`
	Discount    int64        `json:"discount" gorm:"not null;default:0"`
	ClaimFlag   string       `json:"claim_flag" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (VendorOrderHeader) TableName() string { return "vendor_order_headers" }

// VendorOrderLine is one product line within an order, carrying the
// classification verdict alongside the raw vendor fields. Keyed by
// (tenant, sl_no, line_seq).
type VendorOrderLine struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_order_lines_nk,priority:1"`
	SlNo        string       `json:"sl_no" gorm:"type:text;not null;uniqueIndex:ux_order_lines_nk,priority:2"`
	LineSeq     int          `json:"line_seq" gorm:"not null;uniqueIndex:ux_order_lines_nk,priority:3"`
	ProductCode string       `json:"product_code" gorm:"type:text"`
	ProductName string       `json:"product_name" gorm:"type:text"`
	Quantity    int64        `json:"quantity" gorm:"not null;default:0"`
	SupplyPrice int64        `json:"supply_price" gorm:"not null;default:0"`
	SellPrice   int64        `json:"sell_price" gorm:"not null;default:0"`
	BrandCode   string       `json:"brand_code" gorm:"type:text"`
	BrandName   string       `json:"brand_name" gorm:"type:text"`

	Kind                 Kind     `json:"kind" gorm:"type:text"`
	IsRevenue            bool     `json:"is_revenue" gorm:"not null;default:true"`
	GiftType             GiftType `json:"gift_type" gorm:"type:text"`
	ClassificationReason string   `json:"classification_reason" gorm:"type:text"`
	Confidence           float64  `json:"confidence" gorm:"not null;default:0"`
	RuleID               string   `json:"rule_id" gorm:"type:text"`
	RevenueImpact        int64    `json:"revenue_impact" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (VendorOrderLine) TableName() string { return "vendor_order_lines" }

// VendorCustomer is keyed by (tenant, customer_code).
type VendorCustomer struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_customers_nk,priority:1"`
	CustomerCode string       `json:"customer_code" gorm:"type:text;not null;uniqueIndex:ux_customers_nk,priority:2"`
	Name         string       `json:"name" gorm:"type:text"`
	Contact      string       `json:"contact" gorm:"type:text"`
	BillingAddr  string       `json:"billing_addr" gorm:"type:text"`
	ShippingAddr string       `json:"shipping_addr" gorm:"type:text"`
	TaxContact   string       `json:"tax_contact" gorm:"type:text"`
	Status       string       `json:"status" gorm:"type:text"`
	Distribution string       `json:"distribution" gorm:"type:text"`
	Channel      string       `json:"channel" gorm:"type:text"`
	SalesType    string       `json:"sales_type" gorm:"type:text"`
	BusinessForm string       `json:"business_form" gorm:"type:text"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (VendorCustomer) TableName() string { return "vendor_customers" }

// VendorProduct is keyed by (tenant, product_code).
type VendorProduct struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_products_nk,priority:1"`
	ProductCode string       `json:"product_code" gorm:"type:text;not null;uniqueIndex:ux_products_nk,priority:2"`
	Name        string       `json:"name" gorm:"type:text"`
	SupplyPrice int64        `json:"supply_price" gorm:"not null;default:0"`
	SellPrice   int64        `json:"sell_price" gorm:"not null;default:0"`
	BrandCode   string       `json:"brand_code" gorm:"type:text"`
	BrandName   string       `json:"brand_name" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (VendorProduct) TableName() string { return "vendor_products" }

// VendorStock is keyed by (tenant, product_code, warehouse_code).
type VendorStock struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_stock_nk,priority:1"`
	ProductCode   string       `json:"product_code" gorm:"type:text;not null;uniqueIndex:ux_stock_nk,priority:2"`
	WarehouseCode string       `json:"warehouse_code" gorm:"type:text;not null;uniqueIndex:ux_stock_nk,priority:3"`
	OnHand        int64        `json:"on_hand" gorm:"not null;default:0"`
	Defective     int64        `json:"defective" gorm:"not null;default:0"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (VendorStock) TableName() string { return "vendor_stock" }

// ExecutionStatus is one-way: RUNNING moves to SUCCESS or FAILED, never back.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// StepResult is the per-step slice of an ExecutionResult, stored as JSON.
type StepResult struct {
	Step        string `json:"step"`
	Status      string `json:"status"`
	Pages       int    `json:"pages"`
	Fetched     int    `json:"fetched"`
	Inserted    int64  `json:"inserted"`
	Updated     int64  `json:"updated"`
	Gifts       int    `json:"gifts"`
	Merchandise int    `json:"merchandise"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	Error       string `json:"error,omitempty"`
}

// ExecutionResult records one orchestrator run. Persisted as RUNNING at
// start and finalised exactly once.
type ExecutionResult struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	JobID      string          `json:"job_id" gorm:"type:text;index:ix_executions_job"`
	TenantID   snowflake.ID    `json:"tenant_id" gorm:"not null;index:ix_executions_tenant_started,priority:1"`
	StartedAt  time.Time       `json:"started_at" gorm:"not null;index:ix_executions_tenant_started,priority:2,sort:desc"`
	FinishedAt *time.Time      `json:"finished_at"`
	Status     ExecutionStatus `json:"status" gorm:"type:text;not null"`
	Processed  int64           `json:"processed" gorm:"not null;default:0"`
	Steps      datatypes.JSON  `json:"steps"`
	ErrorKind  string          `json:"error_kind" gorm:"type:text"`
	ErrorMsg   string          `json:"error_msg" gorm:"type:text"`
	Stack      string          `json:"stack" gorm:"type:text"`
}

func (ExecutionResult) TableName() string { return "sync_executions" }

// ClassificationLogEntry is an append-only audit row written after a
// classification batch, never during evaluation.
type ClassificationLogEntry struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID `json:"tenant_id" gorm:"not null;index:ix_class_log_tenant"`
	SlNo       string       `json:"sl_no" gorm:"type:text;not null"`
	LineSeq    int          `json:"line_seq" gorm:"not null"`
	Kind       Kind         `json:"kind" gorm:"type:text;not null"`
	GiftType   GiftType     `json:"gift_type" gorm:"type:text"`
	RuleID     string       `json:"rule_id" gorm:"type:text"`
	Reason     string       `json:"reason" gorm:"type:text"`
	Confidence float64      `json:"confidence" gorm:"not null;default:0"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ClassificationLogEntry) TableName() string { return "classification_log" }

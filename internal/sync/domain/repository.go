package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrPersistence wraps storage failures surfaced by the port. A failed
// batch is rolled back as a whole before this is returned.
var ErrPersistence = errors.New("persistence")

func WrapPersistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// UpsertCounts reports how a batch landed.
type UpsertCounts struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
}

func (c *UpsertCounts) Add(other UpsertCounts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
}

// ChunkSize bounds the number of rows handled per statement batch.
const ChunkSize = 30

// Repository is the persistence port. Every upsert runs inside one
// transaction, matches rows by natural key within the given tenant,
// and never touches another tenant's rows.
type Repository interface {
	UpsertOrderHeaders(ctx context.Context, db *gorm.DB, batch []VendorOrderHeader) (UpsertCounts, error)
	UpsertOrderLines(ctx context.Context, db *gorm.DB, batch []VendorOrderLine) (UpsertCounts, error)
	UpsertCustomers(ctx context.Context, db *gorm.DB, batch []VendorCustomer) (UpsertCounts, error)
	UpsertProducts(ctx context.Context, db *gorm.DB, batch []VendorProduct) (UpsertCounts, error)
	UpsertStock(ctx context.Context, db *gorm.DB, batch []VendorStock) (UpsertCounts, error)

	AppendExecutionResult(ctx context.Context, db *gorm.DB, result *ExecutionResult) error
	FinishExecutionResult(ctx context.Context, db *gorm.DB, id snowflake.ID, status ExecutionStatus, processed int64, steps datatypes.JSON, errKind, errMsg string, finishedAt time.Time) error
	ListExecutions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]ExecutionResult, error)

	AppendClassificationLog(ctx context.Context, db *gorm.DB, entries []ClassificationLogEntry) error
	UpdateLineClassification(ctx context.Context, db *gorm.DB, line *VendorOrderLine) error
	IterUnclassified(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, since time.Time, fn func([]VendorOrderLine) error) error
}

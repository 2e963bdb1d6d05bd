package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/erpsync/internal/clock"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// repo mints ids for newly inserted rows and stamps mutation times from
// the shared clock so tests can pin them.
type repo struct {
	genID *snowflake.Node
	clk   clock.Clock
}

func Provide(genID *snowflake.Node, clk clock.Clock) syncdomain.Repository {
	return &repo{genID: genID, clk: clk}
}

func chunks[T any](batch []T) [][]T {
	var out [][]T
	for len(batch) > syncdomain.ChunkSize {
		out = append(out, batch[:syncdomain.ChunkSize])
		batch = batch[syncdomain.ChunkSize:]
	}
	if len(batch) > 0 {
		out = append(out, batch)
	}
	return out
}

// findID resolves a natural key to an existing row id. Zero means absent.
func findID(tx *gorm.DB, query string, args ...interface{}) (snowflake.ID, error) {
	var id snowflake.ID
	if err := tx.Raw(query, args...).Scan(&id).Error; err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) UpsertOrderHeaders(ctx context.Context, db *gorm.DB, batch []syncdomain.VendorOrderHeader) (syncdomain.UpsertCounts, error) {
	var counts syncdomain.UpsertCounts
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(batch) {
			for _, h := range chunk {
				id, err := findID(tx,
					`SELECT id FROM vendor_order_headers WHERE tenant_id = ? AND sl_no = ?`,
					h.TenantID, h.SlNo,
				)
				if err != nil {
					return err
				}
				if id != 0 {
					if err := tx.Exec(
						`UPDATE vendor_order_headers
						 SET site_code = ?, site_key_code = ?, channel_code = ?, order_no = ?,
						     buyer_name = ?, buyer_tel = ?, buyer_mobile = ?, buyer_addr = ?,
						     ordered_at = ?, delivery_fee = ?, discount = ?, claim_flag = ?, updated_at = ?
						 WHERE id = ?`,
						h.SiteCode, h.SiteKeyCode, h.ChannelCode, h.OrderNo,
						h.BuyerName, h.BuyerTel, h.BuyerMobile, h.BuyerAddr,
						h.OrderedAt, h.DeliveryFee, h.Discount, h.ClaimFlag, now,
						id,
					).Error; err != nil {
						return err
					}
					counts.Updated++
					continue
				}
				if err := tx.Exec(
					`INSERT INTO vendor_order_headers
					 (id, tenant_id, sl_no, site_code, site_key_code, channel_code, order_no,
					  buyer_name, buyer_tel, buyer_mobile, buyer_addr,
					  ordered_at, delivery_fee, discount, claim_flag, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), h.TenantID, h.SlNo, h.SiteCode, h.SiteKeyCode, h.ChannelCode, h.OrderNo,
					h.BuyerName, h.BuyerTel, h.BuyerMobile, h.BuyerAddr,
					h.OrderedAt, h.DeliveryFee, h.Discount, h.ClaimFlag, now, now,
				).Error; err != nil {
					return err
				}
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.UpsertCounts{}, syncdomain.WrapPersistence("upsert order headers", err)
	}
	return counts, nil
}

func (r *repo) UpsertOrderLines(ctx context.Context, db *gorm.DB, batch []syncdomain.VendorOrderLine) (syncdomain.UpsertCounts, error) {
	var counts syncdomain.UpsertCounts
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(batch) {
			for _, l := range chunk {
				id, err := findID(tx,
					`SELECT id FROM vendor_order_lines WHERE tenant_id = ? AND sl_no = ? AND line_seq = ?`,
					l.TenantID, l.SlNo, l.LineSeq,
				)
				if err != nil {
					return err
				}
				if id != 0 {
					if err := tx.Exec(
						`UPDATE vendor_order_lines
						 SET product_code = ?, product_name = ?, quantity = ?, supply_price = ?, sell_price = ?,
						     brand_code = ?, brand_name = ?,
						     kind = ?, is_revenue = ?, gift_type = ?, classification_reason = ?,
						     confidence = ?, rule_id = ?, revenue_impact = ?, updated_at = ?
						 WHERE id = ?`,
						l.ProductCode, l.ProductName, l.Quantity, l.SupplyPrice, l.SellPrice,
						l.BrandCode, l.BrandName,
						l.Kind, l.IsRevenue, l.GiftType, l.ClassificationReason,
						l.Confidence, l.RuleID, l.RevenueImpact, now,
						id,
					).Error; err != nil {
						return err
					}
					counts.Updated++
					continue
				}
				if err := tx.Exec(
					`INSERT INTO vendor_order_lines
					 (id, tenant_id, sl_no, line_seq, product_code, product_name, quantity,
					  supply_price, sell_price, brand_code, brand_name,
					  kind, is_revenue, gift_type, classification_reason, confidence, rule_id, revenue_impact,
					  created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), l.TenantID, l.SlNo, l.LineSeq, l.ProductCode, l.ProductName, l.Quantity,
					l.SupplyPrice, l.SellPrice, l.BrandCode, l.BrandName,
					l.Kind, l.IsRevenue, l.GiftType, l.ClassificationReason, l.Confidence, l.RuleID, l.RevenueImpact,
					now, now,
				).Error; err != nil {
					return err
				}
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.UpsertCounts{}, syncdomain.WrapPersistence("upsert order lines", err)
	}
	return counts, nil
}

func (r *repo) UpsertCustomers(ctx context.Context, db *gorm.DB, batch []syncdomain.VendorCustomer) (syncdomain.UpsertCounts, error) {
	var counts syncdomain.UpsertCounts
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(batch) {
			for _, c := range chunk {
				id, err := findID(tx,
					`SELECT id FROM vendor_customers WHERE tenant_id = ? AND customer_code = ?`,
					c.TenantID, c.CustomerCode,
				)
				if err != nil {
					return err
				}
				if id != 0 {
					if err := tx.Exec(
						`UPDATE vendor_customers
						 SET name = ?, contact = ?, billing_addr = ?, shipping_addr = ?, tax_contact = ?,
						     status = ?, distribution = ?, channel = ?, sales_type = ?, business_form = ?, updated_at = ?
						 WHERE id = ?`,
						c.Name, c.Contact, c.BillingAddr, c.ShippingAddr, c.TaxContact,
						c.Status, c.Distribution, c.Channel, c.SalesType, c.BusinessForm, now,
						id,
					).Error; err != nil {
						return err
					}
					counts.Updated++
					continue
				}
				if err := tx.Exec(
					`INSERT INTO vendor_customers
					 (id, tenant_id, customer_code, name, contact, billing_addr, shipping_addr, tax_contact,
					  status, distribution, channel, sales_type, business_form, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), c.TenantID, c.CustomerCode, c.Name, c.Contact, c.BillingAddr, c.ShippingAddr, c.TaxContact,
					c.Status, c.Distribution, c.Channel, c.SalesType, c.BusinessForm, now, now,
				).Error; err != nil {
					return err
				}
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.UpsertCounts{}, syncdomain.WrapPersistence("upsert customers", err)
	}
	return counts, nil
}

func (r *repo) UpsertProducts(ctx context.Context, db *gorm.DB, batch []syncdomain.VendorProduct) (syncdomain.UpsertCounts, error) {
	var counts syncdomain.UpsertCounts
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(batch) {
			for _, p := range chunk {
				id, err := findID(tx,
					`SELECT id FROM vendor_products WHERE tenant_id = ? AND product_code = ?`,
					p.TenantID, p.ProductCode,
				)
				if err != nil {
					return err
				}
				if id != 0 {
					if err := tx.Exec(
						`UPDATE vendor_products
						 SET name = ?, supply_price = ?, sell_price = ?, brand_code = ?, brand_name = ?, updated_at = ?
						 WHERE id = ?`,
						p.Name, p.SupplyPrice, p.SellPrice, p.BrandCode, p.BrandName, now,
						id,
					).Error; err != nil {
						return err
					}
					counts.Updated++
					continue
				}
				if err := tx.Exec(
					`INSERT INTO vendor_products
					 (id, tenant_id, product_code, name, supply_price, sell_price, brand_code, brand_name, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), p.TenantID, p.ProductCode, p.Name, p.SupplyPrice, p.SellPrice, p.BrandCode, p.BrandName, now, now,
				).Error; err != nil {
					return err
				}
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.UpsertCounts{}, syncdomain.WrapPersistence("upsert products", err)
	}
	return counts, nil
}

func (r *repo) UpsertStock(ctx context.Context, db *gorm.DB, batch []syncdomain.VendorStock) (syncdomain.UpsertCounts, error) {
	var counts syncdomain.UpsertCounts
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(batch) {
			for _, s := range chunk {
				id, err := findID(tx,
					`SELECT id FROM vendor_stock WHERE tenant_id = ? AND product_code = ? AND warehouse_code = ?`,
					s.TenantID, s.ProductCode, s.WarehouseCode,
				)
				if err != nil {
					return err
				}
				if id != 0 {
					if err := tx.Exec(
						`UPDATE vendor_stock SET on_hand = ?, defective = ?, updated_at = ? WHERE id = ?`,
						s.OnHand, s.Defective, now,
						id,
					).Error; err != nil {
						return err
					}
					counts.Updated++
					continue
				}
				if err := tx.Exec(
					`INSERT INTO vendor_stock
					 (id, tenant_id, product_code, warehouse_code, on_hand, defective, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), s.TenantID, s.ProductCode, s.WarehouseCode, s.OnHand, s.Defective, now, now,
				).Error; err != nil {
					return err
				}
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.UpsertCounts{}, syncdomain.WrapPersistence("upsert stock", err)
	}
	return counts, nil
}

func (r *repo) AppendExecutionResult(ctx context.Context, db *gorm.DB, result *syncdomain.ExecutionResult) error {
	if result.ID == 0 {
		result.ID = r.genID.Generate()
	}
	err := db.WithContext(ctx).Exec(
		`INSERT INTO sync_executions
		 (id, job_id, tenant_id, started_at, finished_at, status, processed, steps, error_kind, error_msg, stack)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.JobID, result.TenantID, result.StartedAt, result.FinishedAt,
		result.Status, result.Processed, result.Steps, result.ErrorKind, result.ErrorMsg, result.Stack,
	).Error
	if err != nil {
		return syncdomain.WrapPersistence("append execution", err)
	}
	return nil
}

func (r *repo) FinishExecutionResult(ctx context.Context, db *gorm.DB, id snowflake.ID, status syncdomain.ExecutionStatus, processed int64, steps datatypes.JSON, errKind, errMsg string, finishedAt time.Time) error {
	// One-way transition: finalise only while still RUNNING.
	err := db.WithContext(ctx).Exec(
		`UPDATE sync_executions
		 SET status = ?, processed = ?, steps = ?, error_kind = ?, error_msg = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		status, processed, steps, errKind, errMsg, finishedAt,
		id, syncdomain.ExecutionRunning,
	).Error
	if err != nil {
		return syncdomain.WrapPersistence("finish execution", err)
	}
	return nil
}

func (r *repo) ListExecutions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]syncdomain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var results []syncdomain.ExecutionResult
	err := db.WithContext(ctx).Raw(
		`SELECT id, job_id, tenant_id, started_at, finished_at, status, processed, steps, error_kind, error_msg, stack
		 FROM sync_executions WHERE tenant_id = ? ORDER BY started_at DESC LIMIT ?`,
		tenantID, limit,
	).Scan(&results).Error
	if err != nil {
		return nil, syncdomain.WrapPersistence("list executions", err)
	}
	return results, nil
}

func (r *repo) AppendClassificationLog(ctx context.Context, db *gorm.DB, entries []syncdomain.ClassificationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.clk.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(entries) {
			for _, e := range chunk {
				if err := tx.Exec(
					`INSERT INTO classification_log
					 (id, tenant_id, sl_no, line_seq, kind, gift_type, rule_id, reason, confidence, created_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.genID.Generate(), e.TenantID, e.SlNo, e.LineSeq, e.Kind, e.GiftType, e.RuleID, e.Reason, e.Confidence, now,
				).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return syncdomain.WrapPersistence("append classification log", err)
	}
	return nil
}

func (r *repo) UpdateLineClassification(ctx context.Context, db *gorm.DB, line *syncdomain.VendorOrderLine) error {
	err := db.WithContext(ctx).Exec(
		`UPDATE vendor_order_lines
		 SET kind = ?, is_revenue = ?, gift_type = ?, classification_reason = ?,
		     confidence = ?, rule_id = ?, revenue_impact = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		line.Kind, line.IsRevenue, line.GiftType, line.ClassificationReason,
		line.Confidence, line.RuleID, line.RevenueImpact, r.clk.Now(),
		line.ID, line.TenantID,
	).Error
	if err != nil {
		return syncdomain.WrapPersistence("update line classification", err)
	}
	return nil
}

// IterUnclassified streams unclassified lines in id order, chunk by chunk,
// so callers never hold more than one page in memory.
func (r *repo) IterUnclassified(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, since time.Time, fn func([]syncdomain.VendorOrderLine) error) error {
	var lastID snowflake.ID
	for {
		var lines []syncdomain.VendorOrderLine
		err := db.WithContext(ctx).Raw(
			`SELECT id, tenant_id, sl_no, line_seq, product_code, product_name, quantity,
			        supply_price, sell_price, brand_code, brand_name,
			        kind, is_revenue, gift_type, classification_reason, confidence, rule_id, revenue_impact,
			        created_at, updated_at
			 FROM vendor_order_lines
			 WHERE tenant_id = ? AND (kind IS NULL OR kind = '') AND updated_at >= ? AND id > ?
			 ORDER BY id ASC LIMIT ?`,
			tenantID, since, lastID, syncdomain.ChunkSize,
		).Scan(&lines).Error
		if err != nil {
			return syncdomain.WrapPersistence("iter unclassified", err)
		}
		if len(lines) == 0 {
			return nil
		}
		if err := fn(lines); err != nil {
			return err
		}
		lastID = lines[len(lines)-1].ID
	}
}

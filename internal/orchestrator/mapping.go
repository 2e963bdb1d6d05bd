package orchestrator

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	"github.com/smallbiznis/erpsync/internal/vendorapi"
)

var orderTimeLayouts = []string{
	"20060102 15:04:05",
	"2006-01-02 15:04:05",
	"20060102",
	"2006-01-02",
}

// parseOrderTime is tolerant of the vendor's date variants; unparseable
// input yields the zero time rather than an error.
func parseOrderTime(date, clock string) time.Time {
	raw := strings.TrimSpace(date)
	if clock = strings.TrimSpace(clock); clock != "" {
		raw = raw + " " + clock
	}
	for _, layout := range orderTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func mapOrderHeader(tenantID snowflake.ID, o vendorapi.Order) syncdomain.VendorOrderHeader {
	return syncdomain.VendorOrderHeader{
		TenantID:    tenantID,
		SlNo:        o.SlNo,
		SiteCode:    o.SiteCode,
		SiteKeyCode: o.SiteKeyCode,
		ChannelCode: o.GerCode,
		OrderNo:     o.OrderNo,
		BuyerName:   o.BuyerName,
		BuyerTel:    o.BuyerTel,
		BuyerMobile: o.BuyerMobile,
		BuyerAddr:   o.BuyerAddr,
		OrderedAt:   parseOrderTime(o.Date, o.Time),
		DeliveryFee: int64(o.DeliveryFee),
		Discount:    int64(o.Discount),
		ClaimFlag:   o.ClaimYn,
	}
}

// mapOrderLines numbers lines 1-based within their order.
func mapOrderLines(tenantID snowflake.ID, o vendorapi.Order) []syncdomain.VendorOrderLine {
	lines := make([]syncdomain.VendorOrderLine, 0, len(o.Goods))
	for i, g := range o.Goods {
		lines = append(lines, syncdomain.VendorOrderLine{
			TenantID:    tenantID,
			SlNo:        o.SlNo,
			LineSeq:     i + 1,
			ProductCode: g.Code,
			ProductName: g.Name,
			Quantity:    int64(g.Qty),
			SupplyPrice: int64(g.SupplyPrice),
			SellPrice:   int64(g.SellPrice),
			BrandCode:   g.BrandCode,
			BrandName:   g.BrandName,
		})
	}
	return lines
}

func mapCustomer(tenantID snowflake.ID, c vendorapi.Customer) syncdomain.VendorCustomer {
	return syncdomain.VendorCustomer{
		TenantID:     tenantID,
		CustomerCode: c.Code,
		Name:         c.Name,
		Contact:      firstNonEmpty(c.Mobile, c.Tel, c.Email),
		BillingAddr:  strings.TrimSpace(c.Addr1 + " " + c.Addr2),
		ShippingAddr: c.ShippingAddr,
		TaxContact:   firstNonEmpty(c.TaxEmail, c.TaxManager),
		Status:       c.UseYn,
		Distribution: c.Distribution,
		Channel:      c.Channel,
		SalesType:    c.SaleType,
		BusinessForm: c.BizForm,
	}
}

func mapProduct(tenantID snowflake.ID, p vendorapi.Product) syncdomain.VendorProduct {
	return syncdomain.VendorProduct{
		TenantID:    tenantID,
		ProductCode: p.Code,
		Name:        p.Name,
		SupplyPrice: int64(p.SupplyPrice),
		SellPrice:   int64(p.SellPrice),
		BrandCode:   p.BrandCode,
		BrandName:   p.BrandName,
	}
}

func mapStock(tenantID snowflake.ID, s vendorapi.Stock) syncdomain.VendorStock {
	return syncdomain.VendorStock{
		TenantID:      tenantID,
		ProductCode:   s.Code,
		WarehouseCode: s.WarehouseCode,
		OnHand:        int64(s.Qty),
		Defective:     int64(s.BadQty),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package vendorapi

import (
	"encoding/xml"
	"strings"
)

// Mode selects one vendor operation on the xml.asp endpoint.
type Mode string

const (
	ModeCustomers  Mode = "cust"
	ModeOrders     Mode = "jumun"
	ModeGoods      Mode = "goods"
	ModeStock      Mode = "jegoAll"
	ModeSiteCodes  Mode = "sitecode"
	ModeBrands     Mode = "brand"
	ModeCouriers   Mode = "mk"
	ModeChannels   Mode = "tagcom"
	ModeWarehouses Mode = "ChanggoCode"
)

// Int parses the vendor's numeric fields tolerantly: non-digit characters
// are stripped, an empty remainder yields zero. The feed routinely carries
// thousands separators and stray whitespace.
type Int int64

func (n *Int) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	*n = Int(tolerantInt(raw))
	return nil
}

func tolerantInt(raw string) int64 {
	var (
		value    int64
		negative bool
		seen     bool
	)
	for _, r := range strings.TrimSpace(raw) {
		if r == '-' && !seen {
			negative = true
			continue
		}
		if r < '0' || r > '9' {
			continue
		}
		seen = true
		value = value*10 + int64(r-'0')
	}
	if negative {
		value = -value
	}
	return value
}

// envelope is the common response shell: record count, page count when
// paginated, and zero or more info elements. The root element name varies
// by mode and is intentionally not matched.
type envelope[T any] struct {
	SelecCnt Int    `xml:"SelecCnt"`
	TotPage  Int    `xml:"TotPage"`
	ErrorMsg string `xml:"Error"`
	Infos    []T    `xml:"info"`
}

// Order is one order header from mode jumun, with nested line items and an
// optional delivery block.
type Order struct {
	SlNo        string `xml:"Sl_No"`
	SiteCode    string `xml:"Site_Code"`
	SiteKeyCode string `xml:"Site_Key_Code"`
	GerCode     string `xml:"GerCode"`
	OrderNo     string `xml:"Order_No"`
	Date        string `xml:"jDate"`
	Time        string `xml:"jTime"`
	BuyerName   string `xml:"Jname"`
	BuyerTel    string `xml:"jTel"`
	BuyerMobile string `xml:"jHp"`
	BuyerAddr   string `xml:"jAddr"`
	MutatedDate string `xml:"mDate"`
	DeliveryFee Int    `xml:"bAmt"`
	Discount    Int    `xml:"disGongAmt"`
	ClaimYn     string `xml:"claimYn"`

	Goods    []OrderGoods   `xml:"GoodsInfo"`
	Delivery *OrderDelivery `xml:"BeaInfo"`
}

// OrderGoods is one line item inside an order.
type OrderGoods struct {
	Code        string `xml:"Gcode"`
	Name        string `xml:"Gname"`
	Qty         Int    `xml:"Gqty"`
	SupplyPrice Int    `xml:"gongAmt"`
	SellPrice   Int    `xml:"panAmt"`
	BrandCode   string `xml:"brandCode"`
	BrandName   string `xml:"brandName"`
}

type OrderDelivery struct {
	Name        string `xml:"Bname"`
	Tel         string `xml:"Btel"`
	Addr        string `xml:"Baddr"`
	TrackingNo  string `xml:"songNo"`
	CourierCode string `xml:"taebaeCode"`
}

// Customer is one account from mode cust.
type Customer struct {
	Code         string `xml:"Ccode"`
	Name         string `xml:"Cname"`
	CEO          string `xml:"Ceo"`
	Tel          string `xml:"Tel"`
	Mobile       string `xml:"Hp"`
	Fax          string `xml:"Fax"`
	Email        string `xml:"Email"`
	Zip          string `xml:"Zip"`
	Addr1        string `xml:"Addr1"`
	Addr2        string `xml:"Addr2"`
	ShippingZip  string `xml:"BaesongZip"`
	ShippingAddr string `xml:"BaesongAddr"`
	TaxEmail     string `xml:"TaxEmail"`
	TaxManager   string `xml:"TaxManager"`
	UseYn        string `xml:"UseYn"`
	Distribution string `xml:"Distribution"`
	Channel      string `xml:"Channel"`
	SaleType     string `xml:"SaleType"`
	BizForm      string `xml:"BizForm"`
}

// Product is one catalog item from mode goods.
type Product struct {
	Code        string `xml:"Gcode"`
	Name        string `xml:"Gname"`
	GerCode     string `xml:"GerCode"`
	BrandCode   string `xml:"brandCode"`
	BrandName   string `xml:"brandName"`
	SupplyPrice Int    `xml:"inPrice"`
	SellPrice   Int    `xml:"outPrice"`
	Barcode     string `xml:"Barcode"`
	UseYn       string `xml:"UseYn"`
}

// Stock is one warehouse quantity from mode jegoAll.
type Stock struct {
	Code          string `xml:"Gcode"`
	Name          string `xml:"Gname"`
	WarehouseCode string `xml:"ChanggoCode"`
	Qty           Int    `xml:"Jego"`
	BadQty        Int    `xml:"BadJego"`
	Date          string `xml:"Date"`
}

// CodeEntry is one row from the code-lookup modes (sitecode, brand, mk,
// tagcom, ChanggoCode).
type CodeEntry struct {
	Code string `xml:"Code"`
	Name string `xml:"Name"`
}

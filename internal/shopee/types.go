package shopee

import (
	"time"

	"github.com/shopspring/decimal"

	"marketsync/internal/dailymetrics"
)

const (
	OrderStatusCompleted = "COMPLETED"
	timeRangeCreateTime  = "create_time"
	detailOptionalFields = "total_amount,pay_time,escrow_amount,order_status"
)

// OrderRef is an order identifier discovered while paginating.
type OrderRef struct {
	OrderSN string `json:"order_sn"`
}

// OrderDetail is the subset of the order record the metrics need.
type OrderDetail struct {
	OrderSN      string           `json:"order_sn"`
	OrderStatus  string           `json:"order_status"`
	CreateTime   int64            `json:"create_time"`
	PayTime      *int64           `json:"pay_time,omitempty"`
	TotalAmount  *decimal.Decimal `json:"total_amount,omitempty"`
	EscrowAmount *decimal.Decimal `json:"escrow_amount,omitempty"`
}

// Order converts the wire record for aggregation. A zero pay_time means unpaid.
func (d OrderDetail) Order() dailymetrics.Order {
	o := dailymetrics.Order{
		ID:        d.OrderSN,
		CreatedAt: time.Unix(d.CreateTime, 0).UTC(),
		Total:     d.TotalAmount,
		Escrow:    d.EscrowAmount,
	}
	if d.PayTime != nil && *d.PayTime > 0 {
		paid := time.Unix(*d.PayTime, 0).UTC()
		o.PaidAt = &paid
	}
	return o
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	ShopID       int64  `json:"shop_id"`
	PartnerID    int64  `json:"partner_id"`
}

type refreshTokenResponse struct {
	Envelope
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"`
}

type orderListResponse struct {
	Envelope
	Response struct {
		OrderList  []OrderRef `json:"order_list"`
		More       bool       `json:"more"`
		NextCursor string     `json:"next_cursor"`
	} `json:"response"`
}

type orderDetailResponse struct {
	Envelope
	Response struct {
		OrderList []OrderDetail `json:"order_list"`
	} `json:"response"`
}

package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

type addItemRequest struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type changeQtyRequest struct {
	Quantity int `json:"quantity"`
}

type createProductRequest struct {
	ID         int64               `json:"id"`
	CategoryID int64               `json:"category_id"`
	Name       string              `json:"name"`
	Slug       string              `json:"slug"`
	Price      string              `json:"price"`
	Qty        int                 `json:"qty"`
	Sizes      []createSizeRequest `json:"sizes"`
}

type createSizeRequest struct {
	Value string `json:"value"`
	Qty   int    `json:"qty"`
}

type qtyRequest struct {
	Qty int `json:"qty"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Available *int            `json:"available,omitempty"`
	Report    *reportResponse `json:"report,omitempty"`
}

type lineResponse struct {
	Key         domain.LineKey `json:"key"`
	ProductID   int64          `json:"product_id"`
	ProductName string         `json:"product_name"`
	Size        string         `json:"size,omitempty"`
	Qty         int            `json:"qty"`
	Available   int            `json:"available"`
	UnitPrice   string         `json:"unit_price"`
	FinalPrice  string         `json:"final_price"`
}

type cartResponse struct {
	Lines      []lineResponse `json:"lines"`
	TotalItems int            `json:"total_items"`
	TotalPrice string         `json:"total_price"`
}

type warningResponse struct {
	Key         domain.LineKey   `json:"key"`
	ProductName string           `json:"product_name"`
	Kind        cart.WarningKind `json:"kind"`
	Requested   int              `json:"requested"`
	Available   int              `json:"available"`
}

type reportResponse struct {
	NeedsRecheck bool              `json:"needs_recheck"`
	Warnings     []warningResponse `json:"warnings"`
}

type reconcileResponse struct {
	Report reportResponse `json:"report"`
	Cart   cartResponse   `json:"cart"`
}

type orderResponse struct {
	ID          string             `json:"id"`
	CustomerID  *string            `json:"customer_id,omitempty"`
	FirstName   string             `json:"first_name"`
	LastName    string             `json:"last_name"`
	Phone       string             `json:"phone"`
	Email       string             `json:"email,omitempty"`
	Address     string             `json:"address,omitempty"`
	Comment     string             `json:"comment,omitempty"`
	CartID      *int64             `json:"cart_id,omitempty"`
	Status      domain.OrderStatus `json:"status"`
	BuyingType  domain.BuyingType  `json:"buying_type"`
	PaymentType domain.PaymentType `json:"payment_type"`
	FinalPrice  string             `json:"final_price"`
	Version     int64              `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type sizeResponse struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
	Qty   int    `json:"qty"`
}

type productResponse struct {
	ID         int64          `json:"id"`
	CategoryID int64          `json:"category_id"`
	Name       string         `json:"name"`
	Slug       string         `json:"slug"`
	Price      string         `json:"price"`
	Qty        int            `json:"qty"`
	Sizes      []sizeResponse `json:"sizes"`
}

func toCartResponse(view cart.View) cartResponse {
	lines := make([]lineResponse, 0, len(view.Lines))
	for _, item := range view.Lines {
		line := lineResponse{
			Key:         item.Key,
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			Qty:         item.Qty,
			Available:   item.Available(),
			UnitPrice:   item.UnitPrice.StringFixed(2),
			FinalPrice:  item.FinalPrice.StringFixed(2),
		}
		if item.Size != nil {
			line.Size = domain.NormalizeSize(item.Size.Value)
		}
		lines = append(lines, line)
	}
	return cartResponse{
		Lines:      lines,
		TotalItems: view.TotalItems,
		TotalPrice: view.TotalPrice.StringFixed(2),
	}
}

func toReportResponse(report cart.Report) reportResponse {
	warnings := make([]warningResponse, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warnings = append(warnings, warningResponse{
			Key:         w.Key,
			ProductName: w.ProductName,
			Kind:        w.Kind,
			Requested:   w.Requested,
			Available:   w.Available,
		})
	}
	return reportResponse{NeedsRecheck: report.NeedsRecheck, Warnings: warnings}
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		FirstName:   o.FirstName,
		LastName:    o.LastName,
		Phone:       o.Phone,
		Email:       o.Email,
		Address:     o.Address,
		Comment:     o.Comment,
		CartID:      o.CartID,
		Status:      o.Status,
		BuyingType:  o.BuyingType,
		PaymentType: o.PaymentType,
		FinalPrice:  o.FinalPrice.StringFixed(2),
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func toProductResponse(p domain.Product) productResponse {
	sizes := make([]sizeResponse, 0, len(p.Sizes))
	for _, s := range p.Sizes {
		sizes = append(sizes, sizeResponse{ID: s.ID, Value: domain.NormalizeSize(s.Value), Qty: s.Qty})
	}
	return productResponse{
		ID:         p.ID,
		CategoryID: p.CategoryID,
		Name:       p.Name,
		Slug:       p.Slug,
		Price:      p.Price.StringFixed(2),
		Qty:        p.Qty,
		Sizes:      sizes,
	}
}

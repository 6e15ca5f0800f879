package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	ordersCollection   = "orders"
	orderKeyCollection = "order_keys"
)

// OrderRepository stores each order aggregate as one document. Uniqueness of the uid and of the
// (store, external id) pair is enforced through key documents created in the same transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	keys     *pfirestore.Collection[orderKeyDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		keys:     pfirestore.NewCollection[orderKeyDocument](provider, orderKeyCollection),
	}, nil
}

// Insert creates the order together with its uid and external id keys.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewConflict("orders.insert", "order id is required")
	}
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.orders.Create(ctx, id, encodeOrder(order)); err != nil {
			return err
		}
		if err := r.keys.Create(ctx, uidKey(order.UID), orderKeyDocument{OrderID: id}); err != nil {
			return err
		}
		if strings.TrimSpace(order.ExternalID) == "" {
			return nil
		}
		return r.keys.Create(ctx, externalKey(order.StoreID, order.ExternalID), orderKeyDocument{OrderID: id})
	})
}

// Update overwrites the aggregate when the stored version still equals expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Data.Version != expectedVersion {
			return repositories.NewConflict("orders.update", "order %s at version %d, expected %d", order.ID, current.Data.Version, expectedVersion)
		}
		return r.orders.Set(ctx, order.ID, encodeOrder(order))
	})
}

// FindByID loads the aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewNotFound("orders.get", "order id is required")
	}
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.decode(doc.ID), nil
}

// FindByExternalID resolves the external id key and loads the referenced order.
func (r *OrderRepository) FindByExternalID(ctx context.Context, storeID string, externalID string) (domain.Order, error) {
	if strings.TrimSpace(externalID) == "" {
		return domain.Order{}, repositories.NewNotFound("orders.find_external", "external id is required")
	}
	key, err := r.keys.Get(ctx, externalKey(storeID, externalID))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, key.Data.OrderID)
}

func uidKey(uid string) string {
	return "uid:" + keyPart(uid)
}

func externalKey(storeID, externalID string) string {
	return "ext:" + keyPart(storeID) + ":" + keyPart(externalID)
}

type orderKeyDocument struct {
	OrderID string `firestore:"orderId"`
}

type orderDocument struct {
	UID                string                   `firestore:"uid"`
	ExternalID         string                   `firestore:"externalId"`
	StoreID            string                   `firestore:"storeId,omitempty"`
	Platform           string                   `firestore:"platform,omitempty"`
	UserID             string                   `firestore:"userId,omitempty"`
	Currency           string                   `firestore:"currency"`
	CountryCode        string                   `firestore:"countryCode,omitempty"`
	Totals             totalsDocument           `firestore:"totals"`
	ProductionCurrency string                   `firestore:"productionCurrency,omitempty"`
	ProductionTotals   totalsDocument           `firestore:"productionTotals"`
	State              string                   `firestore:"state"`
	Version            int64                    `firestore:"version"`
	PaidAt             *time.Time               `firestore:"paidAt,omitempty"`
	Items              []orderItemDocument      `firestore:"items"`
	Fulfillments       []fulfillmentDocument    `firestore:"fulfillments"`
	ShippingAddress    *shippingAddressDocument `firestore:"shippingAddress,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
	SubmittedAt        *time.Time               `firestore:"submittedAt,omitempty"`
	FulfilledAt        *time.Time               `firestore:"fulfilledAt,omitempty"`
	CancelledAt        *time.Time               `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ID               string                 `firestore:"id"`
	ProductVariantID string                 `firestore:"productVariantId,omitempty"`
	Title            string                 `firestore:"title,omitempty"`
	SKU              string                 `firestore:"sku,omitempty"`
	Quantity         int                    `firestore:"quantity"`
	Price            moneyDocument          `firestore:"price"`
	Total            moneyDocument          `firestore:"total"`
	Discount         moneyDocument          `firestore:"discount"`
	Tax              moneyDocument          `firestore:"tax"`
	ProductionCost   moneyDocument          `firestore:"productionCost"`
	Custom           bool                   `firestore:"custom"`
	Status           string                 `firestore:"status"`
	DeletedAt        *time.Time             `firestore:"deletedAt,omitempty"`
	BundleSlotCount  int                    `firestore:"bundleSlotCount"`
	Mappings         []orderMappingDocument `firestore:"mappings"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

type orderMappingDocument struct {
	ID           string             `firestore:"id"`
	SlotPosition int                `firestore:"slotPosition"`
	Source       string             `firestore:"source"`
	TemplateID   string             `firestore:"templateId,omitempty"`
	Assignment   assignmentDocument `firestore:"assignment"`
	CreatedAt    time.Time          `firestore:"createdAt"`
	UpdatedAt    time.Time          `firestore:"updatedAt"`
}

type fulfillmentDocument struct {
	ID           string                    `firestore:"id"`
	ExternalID   string                    `firestore:"externalId,omitempty"`
	Carrier      string                    `firestore:"carrier,omitempty"`
	TrackingCode string                    `firestore:"trackingCode,omitempty"`
	Lines        []fulfillmentLineDocument `firestore:"lines"`
	CreatedAt    time.Time                 `firestore:"createdAt"`
}

type fulfillmentLineDocument struct {
	ID          string `firestore:"id"`
	OrderItemID string `firestore:"orderItemId"`
	Quantity    int    `firestore:"quantity"`
}

type shippingAddressDocument struct {
	Name        string `firestore:"name,omitempty"`
	Company     string `firestore:"company,omitempty"`
	Line1       string `firestore:"line1,omitempty"`
	Line2       string `firestore:"line2,omitempty"`
	City        string `firestore:"city,omitempty"`
	Region      string `firestore:"region,omitempty"`
	PostalCode  string `firestore:"postalCode,omitempty"`
	CountryCode string `firestore:"countryCode,omitempty"`
	Phone       string `firestore:"phone,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		UID:                order.UID,
		ExternalID:         order.ExternalID,
		StoreID:            order.StoreID,
		Platform:           order.Platform,
		UserID:             order.UserID,
		Currency:           order.Currency,
		CountryCode:        order.CountryCode,
		Totals:             encodeTotals(order.Totals),
		ProductionCurrency: order.ProductionCurrency,
		ProductionTotals:   encodeTotals(order.ProductionTotals),
		State:              string(order.State),
		Version:            order.Version,
		PaidAt:             timePtr(order.PaidAt),
		Items:              make([]orderItemDocument, 0, len(order.Items)),
		Fulfillments:       make([]fulfillmentDocument, 0, len(order.Fulfillments)),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		SubmittedAt:        timePtr(order.SubmittedAt),
		FulfilledAt:        timePtr(order.FulfilledAt),
		CancelledAt:        timePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		itemDoc := orderItemDocument{
			ID:               item.ID,
			ProductVariantID: item.ProductVariantID,
			Title:            item.Title,
			SKU:              item.SKU,
			Quantity:         item.Quantity,
			Price:            encodeMoney(item.Price),
			Total:            encodeMoney(item.Total),
			Discount:         encodeMoney(item.Discount),
			Tax:              encodeMoney(item.Tax),
			ProductionCost:   encodeMoney(item.ProductionCost),
			Custom:           item.Custom,
			Status:           string(item.Status),
			DeletedAt:        timePtr(&item.DeletedAt),
			BundleSlotCount:  item.BundleSlotCount,
			Mappings:         make([]orderMappingDocument, 0, len(item.Mappings)),
			CreatedAt:        item.CreatedAt.UTC(),
			UpdatedAt:        item.UpdatedAt.UTC(),
		}
		for _, mapping := range item.Mappings {
			itemDoc.Mappings = append(itemDoc.Mappings, orderMappingDocument{
				ID:           mapping.ID,
				SlotPosition: mapping.SlotPosition,
				Source:       string(mapping.Source),
				TemplateID:   mapping.TemplateID,
				Assignment:   encodeAssignment(mapping.Assignment),
				CreatedAt:    mapping.CreatedAt.UTC(),
				UpdatedAt:    mapping.UpdatedAt.UTC(),
			})
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	for _, f := range order.Fulfillments {
		fDoc := fulfillmentDocument{
			ID:           f.ID,
			ExternalID:   f.ExternalID,
			Carrier:      f.Carrier,
			TrackingCode: f.TrackingCode,
			Lines:        make([]fulfillmentLineDocument, 0, len(f.Lines)),
			CreatedAt:    f.CreatedAt.UTC(),
		}
		for _, line := range f.Lines {
			fDoc.Lines = append(fDoc.Lines, fulfillmentLineDocument{ID: line.ID, OrderItemID: line.OrderItemID, Quantity: line.Quantity})
		}
		doc.Fulfillments = append(doc.Fulfillments, fDoc)
	}
	if addr := order.ShippingAddress; addr != nil {
		doc.ShippingAddress = &shippingAddressDocument{
			Name:        addr.Name,
			Company:     addr.Company,
			Line1:       addr.Line1,
			Line2:       addr.Line2,
			City:        addr.City,
			Region:      addr.Region,
			PostalCode:  addr.PostalCode,
			CountryCode: addr.CountryCode,
			Phone:       addr.Phone,
		}
	}
	return doc
}

func (d orderDocument) decode(id string) domain.Order {
	order := domain.Order{
		ID:                 id,
		UID:                d.UID,
		ExternalID:         d.ExternalID,
		StoreID:            d.StoreID,
		Platform:           d.Platform,
		UserID:             d.UserID,
		Currency:           d.Currency,
		CountryCode:        d.CountryCode,
		Totals:             d.Totals.decode(),
		ProductionCurrency: d.ProductionCurrency,
		ProductionTotals:   d.ProductionTotals.decode(),
		State:              domain.OrderState(d.State),
		Version:            d.Version,
		PaidAt:             timePtr(d.PaidAt),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		SubmittedAt:        timePtr(d.SubmittedAt),
		FulfilledAt:        timePtr(d.FulfilledAt),
		CancelledAt:        timePtr(d.CancelledAt),
	}
	for _, itemDoc := range d.Items {
		item := domain.OrderItem{
			ID:               itemDoc.ID,
			OrderID:          id,
			ProductVariantID: itemDoc.ProductVariantID,
			Title:            itemDoc.Title,
			SKU:              itemDoc.SKU,
			Quantity:         itemDoc.Quantity,
			Price:            itemDoc.Price.decode(),
			Total:            itemDoc.Total.decode(),
			Discount:         itemDoc.Discount.decode(),
			Tax:              itemDoc.Tax.decode(),
			ProductionCost:   itemDoc.ProductionCost.decode(),
			Custom:           itemDoc.Custom,
			Status:           domain.ItemStatus(itemDoc.Status),
			BundleSlotCount:  itemDoc.BundleSlotCount,
			CreatedAt:        itemDoc.CreatedAt,
			UpdatedAt:        itemDoc.UpdatedAt,
		}
		if itemDoc.DeletedAt != nil {
			item.DeletedAt = *itemDoc.DeletedAt
		}
		for _, m := range itemDoc.Mappings {
			item.Mappings = append(item.Mappings, domain.OrderMapping{
				ID:           m.ID,
				OrderItemID:  itemDoc.ID,
				SlotPosition: m.SlotPosition,
				Source:       domain.MappingSource(m.Source),
				TemplateID:   m.TemplateID,
				Assignment:   m.Assignment.decode(),
				CreatedAt:    m.CreatedAt,
				UpdatedAt:    m.UpdatedAt,
			})
		}
		order.Items = append(order.Items, item)
	}
	for _, fDoc := range d.Fulfillments {
		f := domain.Fulfillment{
			ID:           fDoc.ID,
			OrderID:      id,
			ExternalID:   fDoc.ExternalID,
			Carrier:      fDoc.Carrier,
			TrackingCode: fDoc.TrackingCode,
			CreatedAt:    fDoc.CreatedAt,
		}
		for _, line := range fDoc.Lines {
			f.Lines = append(f.Lines, domain.FulfillmentLineItem{ID: line.ID, FulfillmentID: fDoc.ID, OrderItemID: line.OrderItemID, Quantity: line.Quantity})
		}
		order.Fulfillments = append(order.Fulfillments, f)
	}
	if addr := d.ShippingAddress; addr != nil {
		order.ShippingAddress = &domain.ShippingAddress{
			Name:        addr.Name,
			Company:     addr.Company,
			Line1:       addr.Line1,
			Line2:       addr.Line2,
			City:        addr.City,
			Region:      addr.Region,
			PostalCode:  addr.PostalCode,
			CountryCode: addr.CountryCode,
			Phone:       addr.Phone,
		}
	}
	return order
}

package firestore

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/framefox/foxconnect/internal/domain"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
	"github.com/framefox/foxconnect/internal/platform/pagination"
	"github.com/framefox/foxconnect/internal/repositories"
)

const activitiesCollection = "order_activities"

type activityDocument struct {
	OrderID   string         `firestore:"orderId"`
	Action    string         `firestore:"action"`
	Actor     string         `firestore:"actor,omitempty"`
	ActorType string         `firestore:"actorType,omitempty"`
	Event     string         `firestore:"event,omitempty"`
	FromState string         `firestore:"fromState,omitempty"`
	ToState   string         `firestore:"toState,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// ActivityRepository is the append-only audit trail. Entries are never updated or deleted.
type ActivityRepository struct {
	base *pfirestore.Collection[activityDocument]
}

var _ repositories.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository constructs a Firestore-backed activity repository.
func NewActivityRepository(provider *pfirestore.Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository requires firestore provider")
	}
	return &ActivityRepository{
		base: pfirestore.NewCollection[activityDocument](provider, activitiesCollection),
	}, nil
}

func (r *ActivityRepository) Append(ctx context.Context, activity domain.Activity) error {
	return r.base.Create(ctx, strings.TrimSpace(activity.ID), activityDocument{
		OrderID:   activity.OrderID,
		Action:    activity.Action,
		Actor:     activity.Actor,
		ActorType: activity.ActorType,
		Event:     string(activity.Event),
		FromState: string(activity.FromState),
		ToState:   string(activity.ToState),
		Metadata:  maps.Clone(activity.Metadata),
		CreatedAt: activity.CreatedAt.UTC(),
	})
}

// ListByOrder pages through an order's activities oldest first. Ties on createdAt are broken by
// document id so cursors stay stable.
func (r *ActivityRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Activity], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Activity]{}, err
	}
	size := pagination.NormalizePageSize(pager.PageSize)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderId", "==", strings.TrimSpace(orderID)).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.AfterCreatedAt.UTC(), cursor.AfterID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Activity]{}, err
	}

	page := domain.CursorPage[domain.Activity]{Items: make([]domain.Activity, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, domain.Activity{
			ID:        doc.ID,
			OrderID:   doc.Data.OrderID,
			Action:    doc.Data.Action,
			Actor:     doc.Data.Actor,
			ActorType: doc.Data.ActorType,
			Event:     domain.OrderEvent(doc.Data.Event),
			FromState: domain.OrderState(doc.Data.FromState),
			ToState:   domain.OrderState(doc.Data.ToState),
			Metadata:  doc.Data.Metadata,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{AfterCreatedAt: last.CreatedAt, AfterID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Activity]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

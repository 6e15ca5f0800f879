package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

func TestOrderRepoVersionCheck(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	orders := store.Orders()

	order := domain.Order{ID: "ord_1", UID: "10000000", ExternalID: "10000000", State: domain.OrderStateDraft, Version: 1}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := orders.Insert(ctx, domain.Order{ID: "ord_2", UID: "10000001", ExternalID: "10000000"}); !repositories.IsConflict(err) {
		t.Fatalf("duplicate external id should conflict, got %v", err)
	}

	order.State = domain.OrderStateInProduction
	order.Version = 2
	if err := orders.Update(ctx, order, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	order.Version = 3
	if err := orders.Update(ctx, order, 1); !repositories.IsConflict(err) {
		t.Fatalf("stale version should conflict, got %v", err)
	}

	loaded, err := orders.FindByExternalID(ctx, "", "10000000")
	if err != nil {
		t.Fatalf("find by external id: %v", err)
	}
	if loaded.Version != 2 || loaded.State != domain.OrderStateInProduction {
		t.Fatalf("unexpected stored order %+v", loaded)
	}
	if _, err := orders.FindByID(ctx, "ord_missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepoReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	order := domain.Order{ID: "ord_1", UID: "1", Items: []domain.OrderItem{{ID: "itm_1", Quantity: 1}}}
	if err := store.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, _ := store.Orders().FindByID(ctx, "ord_1")
	loaded.Items[0].Quantity = 99

	again, _ := store.Orders().FindByID(ctx, "ord_1")
	if again.Items[0].Quantity != 1 {
		t.Fatalf("mutating a loaded order leaked into the store")
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := store.Orders().Insert(txCtx, domain.Order{ID: "ord_1", UID: "1"}); err != nil {
			return err
		}
		if err := store.Activities().Append(txCtx, domain.Activity{ID: "act_1", OrderID: "ord_1"}); err != nil {
			return err
		}
		// Nested transactions join the outer one.
		return store.RunInTx(txCtx, func(context.Context) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.Orders().FindByID(ctx, "ord_1"); !repositories.IsNotFound(err) {
		t.Fatalf("insert should be rolled back, got %v", err)
	}
	page, err := store.Activities().ListByOrder(ctx, "ord_1", domain.Pagination{})
	if err != nil || len(page.Items) != 0 {
		t.Fatalf("activity should be rolled back, got %+v err=%v", page, err)
	}

	store.BeforeCommit = func(context.Context) error { return boom }
	err = store.RunInTx(ctx, func(txCtx context.Context) error {
		return store.Orders().Insert(txCtx, domain.Order{ID: "ord_2", UID: "2"})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit hook error, got %v", err)
	}
	if _, err := store.Orders().FindByID(ctx, "ord_2"); !repositories.IsNotFound(err) {
		t.Fatalf("failed commit should roll back, got %v", err)
	}
}

func TestTemplateRepoSingleDefault(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	templates := store.TemplateMappings()

	if err := templates.Insert(ctx, domain.TemplateMapping{ID: "tpl_2", ProductVariantID: "var-1", IsDefault: true}); err != nil {
		t.Fatalf("insert default: %v", err)
	}
	if err := templates.Insert(ctx, domain.TemplateMapping{ID: "tpl_3", ProductVariantID: "var-1", IsDefault: true}); !repositories.IsConflict(err) {
		t.Fatalf("second default should conflict, got %v", err)
	}
	if err := templates.Insert(ctx, domain.TemplateMapping{ID: "tpl_1", ProductVariantID: "var-1", BundleID: "bdl_1", SlotPosition: 1}); err != nil {
		t.Fatalf("insert slot: %v", err)
	}

	listed, err := templates.ListByVariant(ctx, "var-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "tpl_2" || listed[1].ID != "tpl_1" {
		t.Fatalf("expected plain mapping before slot 1, got %+v", listed)
	}
}

func TestActivityRepoPagination(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.Activities().Append(ctx, domain.Activity{
			ID:        fmt.Sprintf("act_%d", i),
			OrderID:   "ord_1",
			Action:    "order.transitioned",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Activities().Append(ctx, domain.Activity{ID: "act_other", OrderID: "ord_2", CreatedAt: base}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var ids []string
	token := ""
	for pages := 0; pages < 5; pages++ {
		page, err := store.Activities().ListByOrder(ctx, "ord_1", domain.Pagination{PageSize: 2, PageToken: token})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, activity := range page.Items {
			ids = append(ids, activity.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if fmt.Sprint(ids) != "[act_0 act_1 act_2 act_3 act_4]" {
		t.Fatalf("unexpected activity order %v", ids)
	}
}

func TestCounterRepoBounds(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	counters := store.Counters()
	initial := int64(9)
	maxValue := int64(11)

	if err := counters.Configure(ctx, "orders:uid", repositories.CounterConfig{Step: 1, InitialValue: &initial, MaxValue: &maxValue}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for _, want := range []int64{10, 11} {
		got, err := counters.Next(ctx, "orders:uid", 1)
		if err != nil || got != want {
			t.Fatalf("next: got %d err=%v, want %d", got, err, want)
		}
	}
	_, err := counters.Next(ctx, "orders:uid", 1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted counter, got %v", err)
	}
	if _, err := counters.Next(ctx, " ", 1); !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCustomerRepoListsByUser(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for _, identity := range []domain.CustomerIdentity{
		{UserID: "user-1", CountryCode: "NZ"},
		{UserID: "user-1", CountryCode: "AU"},
		{UserID: "user-1", CountryCode: "au"},
		{UserID: "user-2", CountryCode: "US"},
	} {
		if err := store.Customers().Upsert(ctx, identity); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	listed, err := store.Customers().ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected two identities after case-insensitive upsert, got %+v", listed)
	}
}

func TestStoreHealthReportsOK(t *testing.T) {
	report, err := NewStore().Health().Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %+v", report)
	}
}

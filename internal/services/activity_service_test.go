package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

type stubActivityRepo struct {
	entries   []domain.Activity
	appendErr error

	listOrderID string
	listPager   domain.Pagination
	listResp    domain.CursorPage[domain.Activity]
	listErr     error
}

func (s *stubActivityRepo) Append(_ context.Context, activity domain.Activity) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, activity)
	return nil
}

func (s *stubActivityRepo) ListByOrder(_ context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Activity], error) {
	s.listOrderID = orderID
	s.listPager = pager
	return s.listResp, s.listErr
}

func TestActivityServiceAppendSanitizesAndHashes(t *testing.T) {
	repo := &stubActivityRepo{}
	fixed := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

	svc, err := NewActivityService(ActivityServiceDeps{
		Repository:            repo,
		Clock:                 func() time.Time { return fixed },
		IDGenerator:           func() string { return "01TEST" },
		SensitiveMetadataKeys: []string{"Email"},
		HashSalt:              "pepper:",
	})
	if err != nil {
		t.Fatalf("new activity service: %v", err)
	}

	activity, err := svc.Append(context.Background(), ActivityRecord{
		OrderID:   " ord_1 ",
		Action:    " order.transitioned ",
		Actor:     "  user:42\x00 ",
		Event:     domain.EventSubmit,
		FromState: domain.OrderStateDraft,
		ToState:   domain.OrderStateInProduction,
		Metadata:  map[string]any{"email": "buyer@example.com", "note": " rush\x07 ", " ": "dropped"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	stored := repo.entries[0]
	if stored.ID != "act_01TEST" || activity.ID != stored.ID {
		t.Fatalf("unexpected id %q", stored.ID)
	}
	if stored.OrderID != "ord_1" || stored.Action != "order.transitioned" {
		t.Fatalf("expected trimmed fields, got %+v", stored)
	}
	if stored.Actor != "user:42" || stored.ActorType != "user" {
		t.Fatalf("unexpected actor %q/%q", stored.Actor, stored.ActorType)
	}
	if !stored.CreatedAt.Equal(fixed) {
		t.Fatalf("expected clock timestamp, got %s", stored.CreatedAt)
	}
	email, _ := stored.Metadata["email"].(string)
	if !strings.HasPrefix(email, defaultHasherPrefix) || strings.Contains(email, "example.com") {
		t.Fatalf("expected hashed email, got %q", email)
	}
	if stored.Metadata["note"] != "rush" {
		t.Fatalf("expected sanitized note, got %#v", stored.Metadata["note"])
	}
	if _, ok := stored.Metadata[""]; ok {
		t.Fatalf("expected blank key to be dropped")
	}
}

func TestActivityServiceAppendPropagatesRepositoryError(t *testing.T) {
	boom := errors.New("write failed")
	svc, err := NewActivityService(ActivityServiceDeps{Repository: &stubActivityRepo{appendErr: boom}})
	if err != nil {
		t.Fatalf("new activity service: %v", err)
	}
	_, err = svc.Append(context.Background(), ActivityRecord{OrderID: "ord_1", Action: "order.created"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestActivityServiceAppendValidates(t *testing.T) {
	svc, _ := NewActivityService(ActivityServiceDeps{Repository: &stubActivityRepo{}})
	if _, err := svc.Append(context.Background(), ActivityRecord{Action: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing order, got %v", err)
	}
	if _, err := svc.Append(context.Background(), ActivityRecord{OrderID: "ord"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing action, got %v", err)
	}
}

func TestActivityServiceListDelegates(t *testing.T) {
	repo := &stubActivityRepo{listResp: domain.CursorPage[domain.Activity]{
		Items:         []domain.Activity{{ID: "act_1"}},
		NextPageToken: "next",
	}}
	svc, _ := NewActivityService(ActivityServiceDeps{Repository: repo})

	page, err := svc.List(context.Background(), " ord_1 ", domain.Pagination{PageSize: 10, PageToken: "tok"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.listOrderID != "ord_1" || repo.listPager.PageSize != 10 || repo.listPager.PageToken != "tok" {
		t.Fatalf("unexpected delegation %q %+v", repo.listOrderID, repo.listPager)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestNormalizeActorType(t *testing.T) {
	cases := map[[2]string]string{
		{"", "worker:reconciler"}: "worker",
		{"STAFF", ""}:             "staff",
		{"", "system"}:            "system",
		{"", "someone"}:           defaultActorType,
	}
	for input, want := range cases {
		if got := normalizeActorType(input[0], input[1]); got != want {
			t.Fatalf("normalizeActorType(%q, %q) = %q, want %q", input[0], input[1], got, want)
		}
	}
}

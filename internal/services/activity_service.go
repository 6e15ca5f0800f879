package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/repositories"
)

const (
	activityIDPrefix    = "act_"
	defaultActorType    = "unknown"
	defaultHasherPrefix = "sha256:"
)

// Activity actions written by the engine.
const (
	ActionOrderCreated        = "order.created"
	ActionOrderTransitioned   = "order.transitioned"
	ActionPaymentCaptured     = "order.payment.captured"
	ActionItemAdded           = "order.item.added"
	ActionItemRemoved         = "order.item.removed"
	ActionBundleCopied        = "order.item.bundle_copied"
	ActionMappingUpdated      = "order.mapping.updated"
	ActionFulfillmentRecorded = "fulfillment.recorded"
)

// ActivityServiceDeps bundles constructor inputs for the activity service.
type ActivityServiceDeps struct {
	Repository  repositories.ActivityRepository
	Clock       func() time.Time
	IDGenerator func() string
	// SensitiveMetadataKeys are hashed rather than stored verbatim.
	SensitiveMetadataKeys []string
	HashSalt              string
}

type activityService struct {
	repo      repositories.ActivityRepository
	clock     func() time.Time
	newID     func() string
	sensitive []string
	hashSalt  string
}

// NewActivityService creates the activity writer backed by the supplied repository.
func NewActivityService(deps ActivityServiceDeps) (ActivityService, error) {
	if deps.Repository == nil {
		return nil, errors.New("activity service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &activityService{
		repo:      deps.Repository,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		sensitive: normaliseKeys(deps.SensitiveMetadataKeys),
		hashSalt:  deps.HashSalt,
	}, nil
}

// Append persists one sanitised activity. Unlike a best-effort logger it returns repository
// failures so the surrounding transaction rolls back.
func (s *activityService) Append(ctx context.Context, record ActivityRecord) (Activity, error) {
	orderID := strings.TrimSpace(record.OrderID)
	if orderID == "" {
		return Activity{}, fmt.Errorf("%w: activity order id is required", domain.ErrValidation)
	}
	action := sanitizeText(record.Action, 120)
	if action == "" {
		return Activity{}, fmt.Errorf("%w: activity action is required", domain.ErrValidation)
	}

	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	activity := Activity{
		ID:        activityIDPrefix + s.newID(),
		OrderID:   orderID,
		Action:    action,
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Event:     record.Event,
		FromState: record.FromState,
		ToState:   record.ToState,
		Metadata:  s.prepareMetadata(record.Metadata),
		CreatedAt: occurred.UTC(),
	}

	if err := s.repo.Append(ctx, activity); err != nil {
		return Activity{}, fmt.Errorf("activity service: append %s: %w", action, err)
	}
	return activity, nil
}

// List returns the order's activities oldest first.
func (s *activityService) List(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[Activity], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[Activity]{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	page, err := s.repo.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[Activity]{}, err
	}
	return page, nil
}

func (s *activityService) prepareMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	result := make(map[string]any, len(metadata))
	for key, value := range metadata {
		trimmedKey := sanitizeText(key, 80)
		if trimmedKey == "" {
			continue
		}
		if containsKey(s.sensitive, trimmedKey) {
			result[trimmedKey] = defaultHasherPrefix + s.hashAny(value)
			continue
		}
		result[trimmedKey] = sanitizeMetadataValue(value)
	}
	return result
}

func (s *activityService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

func (s *activityService) hashAny(value any) string {
	switch v := value.(type) {
	case string:
		return s.hashString(v)
	case fmt.Stringer:
		return s.hashString(v.String())
	default:
		if b, err := json.Marshal(v); err == nil {
			return s.hashString(string(b))
		}
		return s.hashString(fmt.Sprintf("%T", value))
	}
}

func normalizeActorType(actorType string, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case "user", "staff", "system", "worker":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case strings.HasPrefix(actor, "user:"):
		return "user"
	case strings.HasPrefix(actor, "staff:"):
		return "staff"
	case strings.HasPrefix(actor, "worker:"):
		return "worker"
	case actor == "system" || strings.HasPrefix(actor, "system:"):
		return "system"
	default:
		return defaultActorType
	}
}

func sanitizeMetadataValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func normaliseKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		lower := strings.ToLower(sanitizeText(key, 80))
		if lower == "" {
			continue
		}
		if _, exists := unique[lower]; exists {
			continue
		}
		unique[lower] = struct{}{}
		result = append(result, lower)
	}
	return result
}

func containsKey(keys []string, candidate string) bool {
	candidate = strings.ToLower(candidate)
	for _, key := range keys {
		if key == candidate {
			return true
		}
	}
	return false
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/di"
	"github.com/framefox/foxconnect/internal/services"
)

type orderView struct {
	ID           string     `json:"id"`
	UID          string     `json:"uid"`
	ExternalID   string     `json:"externalId"`
	State        string     `json:"state"`
	Currency     string     `json:"currency"`
	CountryCode  string     `json:"countryCode,omitempty"`
	Items        int        `json:"items"`
	Fulfillments int        `json:"fulfillments"`
	Version      int64      `json:"version"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type transitionView struct {
	Order     orderView `json:"order"`
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
}

type activityView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Event     string    `json:"event,omitempty"`
	FromState string    `json:"fromState,omitempty"`
	ToState   string    `json:"toState,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type activityListView struct {
	Items         []activityView `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// NewOrderCommand groups the order inspection and transition commands.
func NewOrderCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and transition orders",
	}
	cmd.AddCommand(newOrderShowCommand(rootOpts, factory))
	cmd.AddCommand(newOrderTransitionCommand(rootOpts, factory))
	cmd.AddCommand(newOrderMarkPaidCommand(rootOpts, factory))
	cmd.AddCommand(newOrderEligibilityCommand(rootOpts, factory))
	cmd.AddCommand(newOrderFulfillmentCommand(rootOpts, factory))
	cmd.AddCommand(newOrderActivitiesCommand(rootOpts, factory))
	return cmd
}

// withContainer opens a container for the duration of fn.
func withContainer(cmd *cobra.Command, rootOpts *RootOptions, factory ContainerFactory, fn func(ctx context.Context, c *di.Container) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	container, release, err := factory(ctx, rootOpts)
	if err != nil {
		return fmt.Errorf("open services: %w", err)
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, container)
}

func newOrderShowCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				order, err := c.Services.Orders.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				view := newOrderView(order)
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, view, func(tw *tabwriter.Writer) {
					writeOrderRows(tw, view)
				})
			})
		},
	}
}

func newOrderTransitionCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <order-id> <submit|cancel|reopen|fulfill>",
		Short: "Apply a state machine event to an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := domain.OrderEvent(strings.ToLower(strings.TrimSpace(args[1])))
			var metadata map[string]any
			if strings.TrimSpace(reason) != "" {
				metadata = map[string]any{"reason": strings.TrimSpace(reason)}
			}
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				result, err := c.Services.Orders.AttemptTransition(ctx, services.TransitionCommand{
					OrderID:  args[0],
					Event:    event,
					ActorID:  rootOpts.Actor,
					Metadata: metadata,
				})
				if err != nil {
					if guard, ok := domain.FailedGuard(err); ok {
						return fmt.Errorf("transition refused: guard %s failed: %w", guard, err)
					}
					return err
				}
				view := transitionView{
					Order:     newOrderView(result.Order),
					FromState: string(result.FromState),
					ToState:   string(result.ToState),
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, view, func(tw *tabwriter.Writer) {
					row(tw, "transition", fmt.Sprintf("%s -> %s", view.FromState, view.ToState))
					writeOrderRows(tw, view.Order)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the activity metadata")
	return cmd
}

func newOrderMarkPaidCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-paid <order-id>",
		Short: "Record that the production payment was captured; fails if already captured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				changed, err := c.Services.Orders.MarkPaymentCaptured(ctx, services.MarkPaymentCapturedCommand{
					OrderID: args[0],
					ActorID: rootOpts.Actor,
				})
				if err != nil {
					return err
				}
				payload := map[string]any{"orderId": args[0], "captured": changed}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, payload, func(tw *tabwriter.Writer) {
					row(tw, "payment", "captured")
				})
			})
		},
	}
}

func newOrderEligibilityCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <order-id>",
		Short: "Evaluate the submit guards for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				result, err := c.Services.Orders.Eligibility(ctx, args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, result, func(tw *tabwriter.Writer) {
					row(tw, "all items mapped", result.AllItemsHaveVariantMappings)
					row(tw, "eligible customer", result.HasEligibleCustomerForCountry)
					if guard, failed := result.FailedGuard(); failed {
						row(tw, "blocking guard", guard)
					}
					for _, item := range result.Items {
						fmt.Fprintf(tw, "  %s\tfulfillable=%t\tslots=%t\tcountry=%t\timages=%t\n",
							item.ItemID, item.Fulfillable, item.AllSlotsFilled, item.CountryMatches, item.HasImages)
					}
				})
			})
		},
	}
}

func newOrderFulfillmentCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "fulfillment <order-id>",
		Short: "Show shipped quantities per item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				snapshot, err := c.Services.Orders.FulfillmentSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, snapshot, func(tw *tabwriter.Writer) {
					row(tw, "state", snapshot.DisplayState)
					row(tw, "fully fulfilled", snapshot.FullyFulfilled)
					for _, item := range snapshot.Items {
						fmt.Fprintf(tw, "  %s\t%d/%d\t%s\n", item.ItemID, item.Fulfilled, item.Quantity, item.State)
					}
				})
			})
		},
	}
}

func newOrderActivitiesCommand(rootOpts *RootOptions, factory ContainerFactory) *cobra.Command {
	var (
		pageSize  int
		pageToken string
	)
	cmd := &cobra.Command{
		Use:   "activities <order-id>",
		Short: "List the activity trail of an order, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, factory, func(ctx context.Context, c *di.Container) error {
				page, err := c.Services.Activities.List(ctx, args[0], domain.Pagination{PageSize: pageSize, PageToken: pageToken})
				if err != nil {
					return err
				}
				view := activityListView{Items: make([]activityView, 0, len(page.Items)), NextPageToken: page.NextPageToken}
				for _, activity := range page.Items {
					view.Items = append(view.Items, activityView{
						ID:        activity.ID,
						Action:    activity.Action,
						Actor:     activity.Actor,
						Event:     string(activity.Event),
						FromState: string(activity.FromState),
						ToState:   string(activity.ToState),
						CreatedAt: activity.CreatedAt,
					})
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, view, func(tw *tabwriter.Writer) {
					for _, a := range view.Items {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.CreatedAt.Format(time.RFC3339), a.Action, a.Actor, a.ToState)
					}
					if view.NextPageToken != "" {
						row(tw, "next page", view.NextPageToken)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "activities per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "continuation token from a previous page")
	return cmd
}

func newOrderView(order domain.Order) orderView {
	return orderView{
		ID:           order.ID,
		UID:          order.UID,
		ExternalID:   order.ExternalID,
		State:        string(order.State),
		Currency:     order.Currency,
		CountryCode:  order.CountryCode,
		Items:        len(order.ActiveItems()),
		Fulfillments: len(order.Fulfillments),
		Version:      order.Version,
		PaidAt:       order.PaidAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

func writeOrderRows(tw *tabwriter.Writer, view orderView) {
	row(tw, "id", view.ID)
	row(tw, "uid", view.UID)
	row(tw, "state", view.State)
	row(tw, "currency", view.Currency)
	row(tw, "items", view.Items)
	row(tw, "fulfillments", view.Fulfillments)
	if view.PaidAt != nil {
		row(tw, "paid at", view.PaidAt.Format(time.RFC3339))
	}
}

package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/framefox/foxconnect/internal/di"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Storage backends accepted by --backend.
const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

var validFormats = []string{FormatText, FormatJSON}

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	Format  string
	Backend string
	EnvFile string
	Seed    string
	Actor   string
}

// ContainerFactory opens the service container a command runs against. The returned release
// function is called once the command finishes.
type ContainerFactory func(ctx context.Context, opts *RootOptions) (*di.Container, func(), error)

// Option customises the root command.
type Option func(*settings)

type settings struct {
	factory ContainerFactory
}

// WithContainerFactory replaces the default config-driven container construction.
func WithContainerFactory(factory ContainerFactory) Option {
	return func(s *settings) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// NewRootCommand builds the fulfillctl command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	rootOpts := &RootOptions{}
	s := settings{factory: defaultContainerFactory}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	cmd := &cobra.Command{
		Use:           "fulfillctl",
		Short:         "Operate on fulfillment orders",
		Long:          "fulfillctl inspects and transitions orders, and checks print resolution for artwork crops.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, rootOpts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", rootOpts.Format, validFormats)
			}
			switch rootOpts.Backend {
			case BackendMemory:
				return nil
			case BackendFirestore:
				if rootOpts.Seed != "" {
					return fmt.Errorf("--seed requires --backend %s", BackendMemory)
				}
				return nil
			default:
				return fmt.Errorf("invalid backend %q: must be %s or %s", rootOpts.Backend, BackendFirestore, BackendMemory)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&rootOpts.Format, "format", FormatText, "output format (text|json)")
	cmd.PersistentFlags().StringVar(&rootOpts.Backend, "backend", BackendFirestore, "storage backend (firestore|memory)")
	cmd.PersistentFlags().StringVar(&rootOpts.EnvFile, "env-file", ".env", "dotenv file with FULFILLMENT_* settings")
	cmd.PersistentFlags().StringVar(&rootOpts.Seed, "seed", "", "JSON fixture loaded into the memory backend; without it every run starts empty")
	cmd.PersistentFlags().StringVar(&rootOpts.Actor, "actor", "fulfillctl", "actor recorded on activities")

	cmd.AddCommand(NewDPICommand(rootOpts))
	cmd.AddCommand(NewOrderCommand(rootOpts, s.factory))

	return cmd
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/siraat/companion/pkg/events"
)

func newEventsCommand(rt *runtime) *cobra.Command {
	var (
		group     string
		fromStart bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow session events published by companions",
		Long: `Print session events (signed in, refreshed, ended) from KAFKA_SESSION_TOPIC
as JSON lines until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rt.cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is not set")
			}
			cfg := events.ConsumerConfig{
				Brokers:     rt.cfg.KafkaBrokers,
				Topic:       rt.cfg.KafkaSessionTopic,
				GroupID:     group,
				StartOffset: kafka.LastOffset,
			}
			if fromStart {
				cfg.StartOffset = kafka.FirstOffset
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			consumer := events.NewConsumer(cfg, func(_ context.Context, e *events.Event) error {
				return enc.Encode(e)
			}, rt.logger)
			return consumer.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "consumer group; committed offsets resume where the group left off")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "without --group, read the topic from the beginning")
	return cmd
}

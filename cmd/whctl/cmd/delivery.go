package cmd

import (
	"context"
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/cvieirasp/webhookhub/internal/broker"
	"github.com/cvieirasp/webhookhub/internal/job"
	"github.com/cvieirasp/webhookhub/internal/store"
)

var deliveryEventID string
var deliveryLimit int
var amqpURL string

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect delivery history",
}

// listDeliveriesCmd represents the delivery list command
var listDeliveriesCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent deliveries, optionally filtered by event",
	Long: `List delivery rows, most recent first. Pass --event-id to see the
deliveries fanned out from a single ingested event, oldest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, cleanup, err := getStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		deliveries, err := st.ListDeliveries(ctx, deliveryEventID, deliveryLimit)
		if err != nil {
			return fmt.Errorf("list deliveries: %w", err)
		}

		printOutput(deliveries)
		return nil
	},
}

// replayDeliveryCmd represents the delivery replay command
var replayDeliveryCmd = &cobra.Command{
	Use:   "replay [delivery-id]",
	Short: "Replay a DEAD delivery",
	Long: `Reset a DEAD delivery to PENDING and publish a fresh first-attempt
job for it. This is the manual counterpart to the dead-letter queue: the
system never replays on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := amqpURL
		if url == "" {
			url = os.Getenv("WHCTL_AMQP_URL")
		}
		if url == "" {
			return fmt.Errorf("no broker configured: pass --amqp-url or set WHCTL_AMQP_URL")
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, cleanup, err := getStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		deliveryID := args[0]
		d, err := st.GetDelivery(ctx, deliveryID)
		if err != nil {
			return fmt.Errorf("load delivery: %w", err)
		}

		if err := st.ResetDeliveryForReplay(ctx, deliveryID); err != nil {
			if err == store.ErrNotReplayable {
				return fmt.Errorf("delivery %s is %s, only DEAD deliveries can be replayed", deliveryID, d.Status)
			}
			return fmt.Errorf("reset delivery: %w", err)
		}

		conn, err := amqp.Dial(url)
		if err != nil {
			return fmt.Errorf("amqp dial: %w", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("amqp channel: %w", err)
		}
		defer ch.Close()
		if err := broker.Declare(ch); err != nil {
			return fmt.Errorf("declare topology: %w", err)
		}

		j := job.DeliveryJob{
			DeliveryID:  d.ID,
			EventID:     d.EventID,
			TargetURL:   d.TargetURL,
			PayloadJSON: d.PayloadJSON,
			Attempt:     1,
		}
		if err := broker.PublishJob(ctx, ch, j); err != nil {
			return fmt.Errorf("publish job: %w", err)
		}

		printOutput(map[string]string{"delivery_id": d.ID, "status": "replayed"})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	deliveryCmd.AddCommand(replayDeliveryCmd)

	listDeliveriesCmd.Flags().StringVar(&deliveryEventID, "event-id", "", "filter to deliveries for a single event")
	listDeliveriesCmd.Flags().IntVar(&deliveryLimit, "limit", 50, "maximum rows to return")
	replayDeliveryCmd.Flags().StringVar(&amqpURL, "amqp-url", "", "broker URL for republishing (or WHCTL_AMQP_URL)")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams resolved transfer events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to resolved transfer events",
		ArgsUsage: "[recipient_address]",
		Description: `Subscribe to resolved transfer events published to NATS JetStream.

Events are published to the subject transfers.{recipient} when a transfer
is confirmed or failed. Without an address, events for every recipient
are shown.

Example:
  walletctl nats subscribe 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --must-jq '.status == "failed"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "walletctl",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "Only show events for which this jq expression is truthy (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: recipient address")
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = natspkg.Subject(c.Args().First())
			}

			filters := make([]*gojq.Code, 0, len(c.StringSlice("must-jq")))
			for _, f := range c.StringSlice("must-jq") {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}

			opts := streamOptions{
				natsURL:      c.String("nats-url"),
				subject:      subject,
				durable:      c.Bool("durable"),
				consumerName: c.String("consumer-name"),
				filters:      filters,
				timeout:      c.Duration("timeout"),
				jsonOutput:   wantJSON(c),
			}
			return streamTransfers(c.App.Writer, c.App.ErrWriter, opts)
		},
	}
}

type streamOptions struct {
	natsURL      string
	subject      string
	durable      bool
	consumerName string
	filters      []*gojq.Code
	timeout      time.Duration
	jsonOutput   bool
}

// streamTransfers connects to NATS and prints transfer events until
// interrupted or the timeout elapses.
func streamTransfers(out, errOut io.Writer, opts streamOptions) error {
	nc, err := nats.Connect(opts.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !opts.jsonOutput {
		fmt.Fprintf(errOut, "📡 Subscribing to: %s\n", opts.subject)
		fmt.Fprintf(errOut, "   NATS: %s\n", opts.natsURL)
		if opts.durable {
			fmt.Fprintf(errOut, "   Consumer: %s (durable)\n", opts.consumerName)
		}
		fmt.Fprintf(errOut, "\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: opts.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if opts.durable {
		consumerConfig.Durable = opts.consumerName
		consumerConfig.Name = opts.consumerName
	}

	ctx := context.Background()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if !matchesJQ(opts.filters, event) {
				continue
			}
			count++
			printTransferEvent(out, &event, count, opts.jsonOutput)

		case <-sigChan:
			if !opts.jsonOutput {
				fmt.Fprintf(errOut, "\n✅ Received %d transfers\n", count)
			}
			return nil

		case <-ctx.Done():
			if !opts.jsonOutput {
				fmt.Fprintf(errOut, "\n✅ Received %d transfers\n", count)
			}
			return nil
		}
	}
}

func printTransferEvent(w io.Writer, event *natspkg.TransferEvent, n int, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Transfer #%d\n", n)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "ID:           %s\n", event.TransferID)
	fmt.Fprintf(w, "Status:       %s\n", event.Status)
	fmt.Fprintf(w, "Recipient:    %s\n", event.Recipient)
	fmt.Fprintf(w, "Amount:       %s\n", event.Amount)
	fmt.Fprintf(w, "Mint:         %s\n", event.Mint)
	if event.Signature != "" {
		fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
	}
	if event.ErrorKind != "" {
		fmt.Fprintf(w, "Error:        %s (%s)\n", event.ErrorMessage, event.ErrorKind)
	}
	fmt.Fprintf(w, "Resolved:     %s\n", event.ResolvedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\n")
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if wantJSON(c) {
				return render(c, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}

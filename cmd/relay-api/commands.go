// ABOUTME: Subcommands of relay-api, one per server API method
// ABOUTME: Results print as indented JSON; subscribe prints one JSON line per publication

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/relay-gateway/internal/api"
)

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// parseTags turns repeated key=value flags into a map.
func parseTags(pairs map[string]string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	return pairs
}

// jsonArg validates that s is a JSON document and returns it raw.
func jsonArg(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("data is not valid JSON: %q", s)
	}
	return json.RawMessage(s), nil
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show node statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Info(ctx, &api.InfoRequest{})
			})
		},
	}
}

func (c *cli) publishCmd() *cobra.Command {
	var (
		skipHistory    bool
		tags           map[string]string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "publish CHANNEL DATA",
		Short: "publish a JSON document to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := jsonArg(args[1])
			if err != nil {
				return err
			}
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Publish(ctx, &api.PublishRequest{
					Channel:        args[0],
					Data:           data,
					SkipHistory:    skipHistory,
					Tags:           parseTags(tags),
					IdempotencyKey: idempotencyKey,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipHistory, "skip-history", false, "do not save the publication to history")
	cmd.Flags().StringToStringVar(&tags, "tag", nil, "publication tag (key=value, repeatable)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "deduplicate retries with this key")
	return cmd
}

func (c *cli) broadcastCmd() *cobra.Command {
	var (
		skipHistory    bool
		tags           map[string]string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "broadcast DATA CHANNEL...",
		Short: "publish the same JSON document to several channels",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := jsonArg(args[0])
			if err != nil {
				return err
			}
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Broadcast(ctx, &api.BroadcastRequest{
					Channels:       args[1:],
					Data:           data,
					SkipHistory:    skipHistory,
					Tags:           parseTags(tags),
					IdempotencyKey: idempotencyKey,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipHistory, "skip-history", false, "do not save the publication to history")
	cmd.Flags().StringToStringVar(&tags, "tag", nil, "publication tag (key=value, repeatable)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "deduplicate retries with this key")
	return cmd
}

func (c *cli) presenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence CHANNEL",
		Short: "list clients subscribed to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Presence(ctx, &api.PresenceRequest{Channel: args[0]})
			})
		},
	}
}

func (c *cli) presenceStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence-stats CHANNEL",
		Short: "count clients and users in a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.PresenceStats(ctx, &api.PresenceStatsRequest{Channel: args[0]})
			})
		},
	}
}

// streamPosition builds a Since position from flags; nil when neither is set.
func streamPosition(cmd *cobra.Command, offset uint64, epoch string) *api.StreamPosition {
	if !cmd.Flags().Changed("offset") && !cmd.Flags().Changed("epoch") {
		return nil
	}
	return &api.StreamPosition{Offset: offset, Epoch: epoch}
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit   int32
		offset  uint64
		epoch   string
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "history CHANNEL",
		Short: "read a channel's history stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.HistoryRequest{
				Channel: args[0],
				Limit:   limit,
				Since:   streamPosition(cmd, offset, epoch),
				Reverse: reverse,
			}
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.History(ctx, req)
			})
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 0, "maximum publications to return (0 returns only the stream position)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "return publications after this offset")
	cmd.Flags().StringVar(&epoch, "epoch", "", "stream epoch the offset belongs to")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "newest first")
	return cmd
}

func (c *cli) historyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history-remove CHANNEL",
		Short: "drop a channel's stored publications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.HistoryRemove(ctx, &api.HistoryRemoveRequest{Channel: args[0]})
			})
		},
	}
}

func (c *cli) channelsCmd() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "list active channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Channels(ctx, &api.ChannelsRequest{Pattern: pattern})
			})
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "only channels matching this glob")
	return cmd
}

func (c *cli) unsubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe CHANNEL USER",
		Short: "detach a user's subscriptions from a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client *api.Client) (api.Reply, error) {
				return client.Unsubscribe(ctx, &api.UnsubscribeRequest{Channel: args[0], User: args[1]})
			})
		},
	}
}

func (c *cli) subscribeCmd() *cobra.Command {
	var (
		user   string
		offset uint64
		epoch  string
	)
	cmd := &cobra.Command{
		Use:   "subscribe CHANNEL",
		Short: "stream publications from a channel until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.opts.resolve()
			if err != nil {
				return err
			}
			client, closeConn, err := c.connect(p)
			if err != nil {
				return err
			}
			defer closeConn()

			ctx := cmd.Context()
			stream, err := client.Subscribe(ctx, &api.SubscribeRequest{
				Channel: args[0],
				User:    user,
				Since:   streamPosition(cmd, offset, epoch),
			})
			if err != nil {
				return err
			}
			return c.printStream(ctx, stream.Recv)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user to subscribe as (shown in presence)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "replay publications after this offset")
	cmd.Flags().StringVar(&epoch, "epoch", "", "stream epoch the offset belongs to")
	return cmd
}

// printStream writes one compact JSON line per publication until the
// stream ends. Cancellation by the caller is a clean exit.
func (c *cli) printStream(ctx context.Context, recv func() (*api.SubscribeReply, error)) error {
	for {
		reply, err := recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil && status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		if apiErr := reply.GetError(); apiErr != nil {
			return &applicationError{err: apiErr}
		}
		if reply.Publication == nil {
			continue
		}
		line, err := json.Marshal(reply.Publication)
		if err != nil {
			return fmt.Errorf("encoding publication: %w", err)
		}
		if _, err := fmt.Fprintln(c.out, string(line)); err != nil {
			return err
		}
	}
}

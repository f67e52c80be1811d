// ABOUTME: relay-api is a command-line client for the relay server API
// ABOUTME: Each subcommand maps to one API method; transport and application errors are reported apart

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"

	"github.com/2389/relay-gateway/internal/api"
)

// Exit codes.
const (
	exitTransport   = 1
	exitApplication = 2
)

// applicationError wraps an error carried inside an OK reply.
type applicationError struct {
	err *api.Error
}

func (e *applicationError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.err.Code, e.err.Message)
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	profilePath string
	addr        string
	apiKey      string
	tls         bool
	timeout     time.Duration
}

// resolve merges flags over the profile file and environment.
func (o *globalOptions) resolve() (*Profile, error) {
	p, err := loadProfile(o.profilePath)
	if err != nil {
		return nil, err
	}
	if o.addr != "" {
		p.Addr = o.addr
	}
	if o.apiKey != "" {
		p.APIKey = o.apiKey
	}
	if o.tls {
		p.TLS = true
	}
	return p, nil
}

// cli carries what subcommands need to talk to the server and print results.
type cli struct {
	opts    globalOptions
	out     io.Writer
	connect func(*Profile) (*api.Client, func(), error)
}

func dialClient(p *Profile) (*api.Client, func(), error) {
	conn, err := api.Dial(p.Addr, api.DialOptions{APIKey: p.APIKey, TLS: p.TLS})
	if err != nil {
		return nil, nil, err
	}
	return api.NewClient(conn), func() { _ = conn.Close() }, nil
}

// call resolves the profile, connects, and runs fn with a timeout.
func (c *cli) call(cmd *cobra.Command, fn func(ctx context.Context, client *api.Client) (api.Reply, error)) error {
	p, err := c.opts.resolve()
	if err != nil {
		return err
	}
	client, closeConn, err := c.connect(p)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.opts.timeout)
	defer cancel()

	reply, err := fn(ctx, client)
	if err != nil {
		return err
	}
	if apiErr := reply.GetError(); apiErr != nil {
		return &applicationError{err: apiErr}
	}
	return printJSON(c.out, reply)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "relay-api",
		Short:         "call the relay server API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.profilePath, "profile", defaultProfilePath(), "connection profile (TOML)")
	flags.StringVarP(&c.opts.addr, "addr", "a", "", "server API address (overrides profile)")
	flags.StringVarP(&c.opts.apiKey, "api-key", "k", "", "server API key (overrides profile)")
	flags.BoolVar(&c.opts.tls, "tls", false, "use TLS")
	flags.DurationVar(&c.opts.timeout, "timeout", 10*time.Second, "per-call timeout")

	root.AddCommand(
		c.infoCmd(),
		c.publishCmd(),
		c.broadcastCmd(),
		c.presenceCmd(),
		c.presenceStatsCmd(),
		c.historyCmd(),
		c.historyRemoveCmd(),
		c.channelsCmd(),
		c.unsubscribeCmd(),
		c.subscribeCmd(),
	)
	return root
}

// exitCode reports errors on stderr and maps them to a process exit code.
func exitCode(errOut io.Writer, err error) int {
	if err == nil {
		return 0
	}

	var appErr *applicationError
	if errors.As(err, &appErr) {
		fmt.Fprintf(errOut, "Error: %v\n", appErr)
		return exitApplication
	}
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(errOut, "Error: transport %s: %s\n", st.Code(), st.Message())
		return exitTransport
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	return exitTransport
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd(&cli{out: os.Stdout, connect: dialClient}).ExecuteContext(ctx)
	if code := exitCode(os.Stderr, err); code != 0 {
		cancel()
		os.Exit(code)
	}
}

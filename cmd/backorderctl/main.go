// Command backorderctl — клиент API записей о нехватке товара и утилиты сопровождения.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/backorders/internal/service/grpc"
)

const (
	defaultAddr    = "localhost:50051"
	defaultTimeout = 10 * time.Second
)

// dialFunc открывает клиента API; close освобождает соединение.
type dialFunc func(addr string) (client backorderv1.BackorderServiceClient, closeFn func() error, err error)

func dialGRPC(addr string) (backorderv1.BackorderServiceClient, func() error, error) {
	conn, err := backorderv1.Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	return backorderv1.NewBackorderServiceClient(conn), conn.Close, nil
}

type cli struct {
	addr     string
	timeout  time.Duration
	operator string
	idemKey  string
	jsonOut  bool
	timezone string

	out  io.Writer
	dial dialFunc
	now  func() time.Time
}

func newCLI(out io.Writer, dial dialFunc) *cli {
	return &cli{out: out, dial: dial, now: time.Now}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "backorderctl",
		Short:         "Manage out-of-stock records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.addr, "addr", envOr("BACKORDERS_ADDR", defaultAddr), "gRPC address of the service")
	flags.DurationVar(&c.timeout, "timeout", defaultTimeout, "request timeout")
	flags.StringVar(&c.operator, "operator", os.Getenv("USER"), "operator id recorded in the audit log")
	flags.StringVar(&c.idemKey, "idempotency-key", "", "idempotency key for mutations (generated when empty)")
	flags.BoolVar(&c.jsonOut, "json", false, "print responses as JSON")
	flags.StringVar(&c.timezone, "timezone", envOr("BACKORDERS_TIMEZONE", "UTC"), "timezone for day boundaries")

	root.AddCommand(
		c.createCommand(),
		c.quantityCommand("deliver", "Record a (partial) delivery", func(cl backorderv1.BackorderServiceClient) quantityCall { return cl.ProcessDelivery }),
		c.quantityCommand("return", "Close a record as returned", func(cl backorderv1.BackorderServiceClient) quantityCall { return cl.ProcessReturn }),
		c.batchCommand(),
		c.getCommand(),
		c.listCommand(),
		c.countsCommand(),
		c.referenceCommand(),
		c.dashboardCommand(),
		c.loadCommand(),
		dlqCommand(),
	)
	return root
}

// withClient открывает соединение на время одной команды.
func (c *cli) withClient(cmd *cobra.Command, fn func(ctx context.Context, client backorderv1.BackorderServiceClient) error) error {
	client, closeFn, err := c.dial(c.addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	defer func() { _ = closeFn() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()
	return fn(ctx, client)
}

// mutationContext добавляет ключ идемпотентности в метаданные запроса.
func (c *cli) mutationContext(ctx context.Context) context.Context {
	key := strings.TrimSpace(c.idemKey)
	if key == "" {
		key = uuid.NewString()
	}
	return metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)
}

func (c *cli) calendar() (domain.Calendar, error) {
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		return domain.Calendar{}, fmt.Errorf("invalid timezone %q: %w", c.timezone, err)
	}
	cal := domain.DefaultCalendar()
	cal.Location = loc
	return cal, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

type quantityCall func(ctx context.Context, in *backorderv1.QuantityRequest, opts ...grpc.CallOption) (*backorderv1.RecordResponse, error)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	c := newCLI(os.Stdout, dialGRPC)
	if err := c.rootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

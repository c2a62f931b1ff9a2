package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	grpcsvc "github.com/vladislavdragonenkov/backorders/internal/service/grpc"
)

type loadMode string

const (
	// modeCreate: только создание записей.
	modeCreate loadMode = "create"
	// modeCreateDeliver: создание и выдача в два шага (частичная, затем остаток).
	modeCreateDeliver loadMode = "create-deliver"
	// modeCreateReturn: частичная выдача и возврат остатка.
	modeCreateReturn loadMode = "create-return"
	// modeRead: страница списка и счётчики по вкладкам.
	modeRead loadMode = "read"
)

const scenarioMethod = "scenario"

var errLoadFailed = errors.New("load test finished with failed scenarios")

type loadConfig struct {
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	mode        loadMode
	returnRate  int
	customerID  string
	productID   string
	quantity    int
	outputPath  string
}

func (c loadConfig) validate() error {
	switch {
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case c.duration > 0 && c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.connections <= 0:
		return errors.New("connections must be > 0")
	case c.returnRate < 0 || c.returnRate > 100:
		return errors.New("return-rate must be between 0 and 100")
	case c.mode != modeRead && (strings.TrimSpace(c.customerID) == "" || strings.TrimSpace(c.productID) == ""):
		return errors.New("customer and product are required for write modes")
	case c.mode == modeCreateDeliver || c.mode == modeCreateReturn:
		if c.quantity < 2 {
			return errors.New("quantity must be >= 2 for delivery scenarios")
		}
	case c.quantity <= 0:
		return errors.New("quantity must be > 0")
	}
	return nil
}

func parseLoadMode(value string) (loadMode, error) {
	switch m := loadMode(strings.TrimSpace(value)); m {
	case modeCreate, modeCreateDeliver, modeCreateReturn, modeRead:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type loadReport struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	Mode              loadMode                `json:"mode"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, n := range s.codes {
		codesCopy[code] = n
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

// collector собирает коды и задержки по RPC-методам.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(mode loadMode, startedAt time.Time, duration time.Duration) loadReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := loadReport{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Mode:            mode,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	if s := c.methods[scenarioMethod]; s != nil {
		result.TotalScenarios = s.calls
		result.SuccessScenarios = s.success
		result.FailedScenarios = s.failed
		result.ErrorRate = ratio(s.failed, s.calls)
		result.ScenarioLatencyMs = buildLatencySummary(s.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	for name, s := range c.methods {
		if name == scenarioMethod {
			continue
		}
		result.Methods[name] = s.report()
	}
	return result
}

func (c *cli) loadCommand() *cobra.Command {
	var (
		cfg  loadConfig
		mode string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate API load and print latency and error-rate summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseLoadMode(mode)
			if err != nil {
				return err
			}
			cfg.mode = m
			cfg.totalSet = cmd.Flags().Changed("total")
			if err := cfg.validate(); err != nil {
				return err
			}
			result, err := c.runLoad(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printLoadReport(c.out, result, cfg)
			if cfg.outputPath != "" {
				if err := writeJSONReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if result.FailedScenarios > 0 {
				return errLoadFailed
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&cfg.total, "total", 400, "scenarios in count mode; with --duration only an upper bound when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "time-based run duration (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "gRPC client connections")
	fs.StringVar(&mode, "mode", string(modeCreate), "create | create-deliver | create-return | read")
	fs.IntVar(&cfg.returnRate, "return-rate", 0, "percent of create-deliver scenarios closed as returned (0..100)")
	fs.StringVar(&cfg.customerID, "customer", "", "customer id for created records")
	fs.StringVar(&cfg.productID, "product", "", "product id for created records")
	fs.IntVar(&cfg.quantity, "quantity", 2, "requested quantity per record")
	fs.StringVar(&cfg.outputPath, "output", "", "JSON report file")
	return cmd
}

func (c *cli) runLoad(ctx context.Context, cfg loadConfig) (loadReport, error) {
	clients := make([]backorderv1.BackorderServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		client, closeFn, err := c.dial(c.addr)
		if err != nil {
			return loadReport{}, fmt.Errorf("connect to %s: %w", c.addr, err)
		}
		defer func() { _ = closeFn() }()
		clients = append(clients, client)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)
	var failures atomic.Int64

	var g errgroup.Group
	for worker := 0; worker < cfg.concurrency; worker++ {
		client := clients[worker%len(clients)]
		g.Go(func() error {
			for id := range jobs {
				if err := c.runScenario(ctx, client, cfg, id, runID, col); err != nil {
					failures.Add(1)
				}
			}
			return nil
		})
	}
	dispatchJobs(ctx, jobs, cfg)
	_ = g.Wait()

	result := col.buildReport(cfg.mode, startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures.Load() > 0 {
		result.FailedScenarios = failures.Load()
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result, nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg loadConfig) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	limited := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !limited || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func (c *cli) runScenario(ctx context.Context, client backorderv1.BackorderServiceClient, cfg loadConfig, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() { col.record(scenarioMethod, time.Since(start), grpcCode(err)) }()

	if cfg.mode == modeRead {
		return c.readScenario(ctx, client, cfg, index, col)
	}

	created, err := timedCall(ctx, c.timeout, col, "CreateRecord", func(ctx context.Context) (*backorderv1.RecordResponse, error) {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, fmt.Sprintf("lt-create-%s-%d", runID, index))
		return client.CreateRecord(ctx, &backorderv1.CreateRecordRequest{
			CustomerID: cfg.customerID,
			ProductID:  cfg.productID,
			Quantity:   int32(cfg.quantity), //nolint:gosec // проверено validate
			Notes:      "load " + runID,
			OperatorID: c.operator,
		})
	})
	if err != nil {
		return err
	}
	if created.Record == nil || created.Record.ID == "" {
		return status.Error(codes.Internal, "create response returned empty record id")
	}
	if cfg.mode == modeCreate {
		return nil
	}

	id := created.Record.ID
	step := func(method string, qty int32, fn quantityCall) error {
		_, err := timedCall(ctx, c.timeout, col, method, func(ctx context.Context) (*backorderv1.RecordResponse, error) {
			ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, fmt.Sprintf("lt-%s-%s-%d", method, runID, index))
			return fn(ctx, &backorderv1.QuantityRequest{RecordID: id, Quantity: qty, OperatorID: c.operator})
		})
		return err
	}

	if err := step("ProcessDelivery", 1, client.ProcessDelivery); err != nil {
		return err
	}
	rest := int32(cfg.quantity - 1) //nolint:gosec // проверено validate
	if cfg.mode == modeCreateReturn || shouldReturn(index, cfg.returnRate) {
		return step("ProcessReturn", rest, client.ProcessReturn)
	}
	return step("ProcessDeliveryRest", rest, client.ProcessDelivery)
}

func (c *cli) readScenario(ctx context.Context, client backorderv1.BackorderServiceClient, cfg loadConfig, index int, col *collector) error {
	criteria := backorderv1.Criteria{CustomerID: cfg.customerID, ProductID: cfg.productID, Page: int32(index % 5)} //nolint:gosec // < 5
	if _, err := timedCall(ctx, c.timeout, col, "QueryRecords", func(ctx context.Context) (*backorderv1.QueryRecordsResponse, error) {
		return client.QueryRecords(ctx, &backorderv1.QueryRecordsRequest{Criteria: criteria})
	}); err != nil {
		return err
	}
	criteria.Page = 0
	_, err := timedCall(ctx, c.timeout, col, "CountByStatus", func(ctx context.Context) (*backorderv1.CountByStatusResponse, error) {
		return client.CountByStatus(ctx, &backorderv1.CountByStatusRequest{Criteria: criteria})
	})
	return err
}

// timedCall выполняет один RPC с таймаутом и записывает результат в collector.
func timedCall[T any](ctx context.Context, timeout time.Duration, col *collector, method string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := fn(ctx)
	col.record(method, time.Since(start), grpcCode(err))
	return resp, err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldReturn(index, rate int) bool {
	switch {
	case rate <= 0:
		return false
	case rate >= 100:
		return true
	default:
		return index%100 < rate
	}
}

func writeJSONReport(path string, result loadReport) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задан явно флагом --output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printLoadReport(w io.Writer, result loadReport, cfg loadConfig) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		result.Mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	l := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Avg, l.P50, l.P95, l.P99, l.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.P95)
	}
}

func runTarget(cfg loadConfig) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile: линейная интерполяция по отсортированной выборке.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

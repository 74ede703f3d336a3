// Команда loadtest нагружает HTTP API ERP сценариями создания заказов,
// резервирования товара и отмены. После прогона со сценариями резерва
// проверяется, что резерв не превысил остаток.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	envEmail    = "ERP_BOOTSTRAP_ADMIN_EMAIL"
	envPassword = "ERP_BOOTSTRAP_ADMIN_PASSWORD"
)

type loadMode string

const (
	modeCreate              loadMode = "create"
	modeCreateReserve       loadMode = "create-reserve"
	modeCreateReserveCancel loadMode = "create-reserve-cancel"
)

func (m loadMode) reserves() bool {
	return m == modeCreateReserve || m == modeCreateReserveCancel
}

type config struct {
	addr              string
	email             string
	password          string
	productID         string
	quantity          int
	total             int
	totalSet          bool
	duration          time.Duration
	concurrency       int
	timeout           time.Duration
	mode              loadMode
	cancelRate        int
	currency          string
	customerTag       string
	allowInsufficient bool
	outputPath        string
}

func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "base URL of the ERP HTTP API")
	fs.StringVar(&cfg.email, "email", "", "login email (default $"+envEmail+")")
	fs.StringVar(&cfg.password, "password", "", "login password (default $"+envPassword+")")
	fs.StringVar(&cfg.productID, "product-id", "", "inventory item id to reserve in reserve modes")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity reserved per order")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-reserve | create-reserve-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create-reserve mode (0..100)")
	fs.StringVar(&cfg.currency, "currency", "", "order currency (server default when empty)")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.BoolVar(&cfg.allowInsufficient, "allow-insufficient", false, "count insufficient_stock rejections as expected outcomes")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if cfg.email == "" {
		cfg.email, _ = lookup(envEmail)
	}
	if cfg.password == "" {
		cfg.password, _ = lookup(envPassword)
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case strings.TrimSpace(cfg.addr) == "":
		return cfg, errors.New("addr is required")
	case cfg.email == "" || cfg.password == "":
		return cfg, errors.New("email and password are required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	case cfg.mode.reserves() && strings.TrimSpace(cfg.productID) == "":
		return cfg, fmt.Errorf("product-id is required for mode %s", cfg.mode)
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateReserve:
		return modeCreateReserve, nil
	case modeCreateReserveCancel:
		return modeCreateReserveCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run выполняет прогон и возвращает код выхода процесса.
func run(ctx context.Context, cfg config, stdout, stderr io.Writer) int {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	defer httpClient.CloseIdleConnections()

	client := newAPIClient(cfg.addr, httpClient, cfg.timeout)
	if err := client.login(ctx, cfg.email, cfg.password); err != nil {
		_, _ = fmt.Fprintf(stderr, "authentication failed: %v\n", err)
		return 1
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	if cfg.mode.reserves() {
		check, err := client.stock(context.WithoutCancel(ctx), cfg.productID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "stock check failed: %v\n", err)
		} else {
			result.Stock = &check
		}
	}

	printReport(stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(stderr, "failed to write report: %v\n", err)
			return 1
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && result.Stock.Oversold) {
		return 1
	}
	return 0
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() {
		ok := err == nil || (cfg.allowInsufficient && isInsufficientStock(err))
		col.record(scenarioMethod, time.Since(start), scenarioCode(err), ok)
	}()

	customerID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	order, err := client.createOrder(ctx, col, customerID, cfg.currency)
	if err != nil {
		return err
	}
	if !cfg.mode.reserves() {
		return nil
	}

	if err := client.addItem(ctx, col, order.ID, cfg.productID, cfg.quantity, cfg.allowInsufficient); err != nil {
		return err
	}

	if cfg.mode == modeCreateReserveCancel || shouldCancelScenario(index, cfg.cancelRate) {
		return client.cancelOrder(ctx, col, order.ID, "load-cancel")
	}
	return nil
}

func scenarioCode(err error) string {
	if err == nil {
		return "ok"
	}
	return callCode(0, err)
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	DaysAhead     int
	PayRatio      float64 // share of bookings answered with an approved notification
	RejectRatio   float64 // share answered with a rejection
	DuplicateHook int     // deliveries per notification
}

type booked struct {
	ID  uuid.UUID
	Ref string
}

type DataPool struct {
	Providers []uuid.UUID
	Dates     []string

	mu           sync.Mutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

// TakeAppointment removes and returns a random booked appointment.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	b := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[atMost(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[atMost(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

type Metrics struct {
	ListSlots    OperationMetrics
	Booking      OperationMetrics
	Notification OperationMetrics
	Cancel       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("pay_ratio", cfg.PayRatio),
		zap.Float64("reject_ratio", cfg.RejectRatio),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := sim.loadDataPool(ctx)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = pool
	logger.Info("loaded providers", zap.Int("providers", len(pool.Providers)), zap.Strings("dates", pool.Dates))

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		DaysAhead:     getInt("SIM_DAYS_AHEAD", 3),
		PayRatio:      getFloat("SIM_PAY_RATIO", 0.6),
		RejectRatio:   getFloat("SIM_REJECT_RATIO", 0.2),
		DuplicateHook: getInt("SIM_DUPLICATE_DELIVERIES", 2),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	if cfg.PayRatio+cfg.RejectRatio > 1 {
		return fmt.Errorf("SIM_PAY_RATIO + SIM_REJECT_RATIO must be <= 1")
	}
	if cfg.DuplicateHook < 1 {
		return fmt.Errorf("SIM_DUPLICATE_DELIVERIES must be >= 1")
	}
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var providers []struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.doJSON(ctx, http.MethodGet, "/providers", nil, &providers)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list providers: unexpected status %d", status)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers registered, run the seed first")
	}

	dp := &DataPool{}
	for _, p := range providers {
		dp.Providers = append(dp.Providers, p.ID)
	}
	today := time.Now().UTC()
	for d := 1; d <= s.config.DaysAhead; d++ {
		dp.Dates = append(dp.Dates, today.AddDate(0, 0, d).Format(time.DateOnly))
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// settle a pending booking half of the time so holds do not pile up
			if rng.Intn(2) == 0 {
				if b, ok := s.pool.TakeAppointment(rng); ok {
					s.settle(ctx, rng, b)
					continue
				}
			}
			s.doBooking(ctx, rng)
		}
	}
}

// doBooking picks a provider and date, lists the grid and races for one of
// the first free slots so that workers regularly collide.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	var slots []struct {
		Start     string `json:"start"`
		Available bool   `json:"available"`
	}
	start := time.Now()
	status, err := s.doJSON(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/slots?date=%s", providerID, date), nil, &slots)
	s.metrics.ListSlots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
	if err != nil || status != http.StatusOK {
		return
	}

	var free []string
	for _, sl := range slots {
		if sl.Available {
			free = append(free, sl.Start)
			if len(free) == 3 {
				break
			}
		}
	}
	if len(free) == 0 {
		return
	}

	req := map[string]string{
		"provider_id":     providerID.String(),
		"date":            date,
		"start":           free[rng.Intn(len(free))],
		"patient_name":    fmt.Sprintf("Sim Patient %d", rng.Intn(10000)),
		"patient_contact": fmt.Sprintf("sim%d@example.com", rng.Intn(10000)),
	}
	var resp struct {
		ID         uuid.UUID `json:"id"`
		PaymentRef *string   `json:"payment_ref"`
	}

	start = time.Now()
	status, err = s.doJSON(ctx, http.MethodPost, "/appointments", req, &resp)
	latency := time.Since(start)

	switch {
	case err != nil:
		s.metrics.Booking.Record(latency, false, false)
	case status == http.StatusCreated || status == http.StatusAccepted:
		s.metrics.Booking.Record(latency, true, false)
		b := booked{ID: resp.ID}
		if resp.PaymentRef != nil {
			b.Ref = *resp.PaymentRef
		}
		s.pool.AddAppointment(b)
	case status == http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
}

// settle answers a booking the way a payment gateway or patient would:
// approval, rejection or a patient cancellation. Notifications are delivered
// several times to exercise deduplication.
func (s *Simulator) settle(ctx context.Context, rng *rand.Rand, b booked) {
	r := rng.Float64()
	if r >= s.config.PayRatio+s.config.RejectRatio {
		start := time.Now()
		status, err := s.doJSON(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", b.ID), nil, nil)
		s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
		return
	}

	hookStatus := "approved"
	if r >= s.config.PayRatio {
		hookStatus = "rejected"
	}
	hook := map[string]string{
		"event_id":       uuid.NewString(),
		"payment_id":     "sim_pay_" + b.ID.String(),
		"status":         hookStatus,
		"appointment_id": b.ID.String(),
		"intent_ref":     b.Ref,
	}
	for i := 0; i < s.config.DuplicateHook; i++ {
		start := time.Now()
		status, err := s.doJSON(ctx, http.MethodPost, "/webhooks/payments", hook, nil)
		s.metrics.Notification.Record(time.Since(start), err == nil && status == http.StatusOK, false)
	}
}

func (s *Simulator) doJSON(ctx context.Context, method, path string, in, out any) (int, error) {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Payment notification", &s.metrics.Notification)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func atMost(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

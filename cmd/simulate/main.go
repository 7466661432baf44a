package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

type SimConfig struct {
	PatientURL     string
	AppointmentURL string
	SessionURL     string
	Duration       time.Duration
	Workers        int
	Doctors        int
	// PollTimeout bounds how long a worker waits for an event to propagate
	// (registration → eligibility, booking → mapping).
	PollTimeout  time.Duration
	PollInterval time.Duration
	NoShowRatio  float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts a 2xx as success and any other HTTP answer as a rejection.
// Transport failures and timeouts are errors.
func (om *OperationMetrics) Record(latency time.Duration, success bool, rejected bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if rejected {
		atomic.AddInt64(&om.Rejected, 1)
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

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Register        OperationMetrics
	EligibilityWait OperationMetrics
	Book            OperationMetrics
	MappingWait     OperationMetrics
	CreateSession   OperationMetrics
	Start           OperationMetrics
	Finish          OperationMetrics
	Journeys        int64
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

var reasons = []string{
	"Follow-up consultation",
	"Prescription renewal",
	"Lab results review",
	"Skin rash",
	"Persistent headache",
	"Annual check-in",
}

// errRejected marks an HTTP answer outside 2xx.
var errRejected = errors.New("rejected")

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(getEnv("APP_ENV", "dev"), "simulate")
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.String("patient_url", cfg.PatientURL),
		zap.String("appointment_url", cfg.AppointmentURL),
		zap.String("session_url", cfg.SessionURL),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		PatientURL:     getEnv("SIM_PATIENT_URL", "http://localhost:8081"),
		AppointmentURL: getEnv("SIM_APPOINTMENT_URL", "http://localhost:8082"),
		SessionURL:     getEnv("SIM_SESSION_URL", "http://localhost:8083"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		Doctors:        getInt("SIM_DOCTORS", 25),
		PollTimeout:    getDuration("SIM_POLL_TIMEOUT", 10*time.Second),
		PollInterval:   getDuration("SIM_POLL_INTERVAL", 100*time.Millisecond),
		NoShowRatio:    getFloat("SIM_NO_SHOW_RATIO", 0.1),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 {
		return fmt.Errorf("SIM_DOCTORS must be > 0")
	}
	if cfg.NoShowRatio < 0 || cfg.NoShowRatio > 1 {
		return fmt.Errorf("SIM_NO_SHOW_RATIO must be within [0, 1]")
	}
	return nil
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
	s.logger.Info("simulation complete", zap.Int64("journeys", atomic.LoadInt64(&s.metrics.Journeys)))
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for seq := 0; ctx.Err() == nil; seq++ {
		if err := s.journey(ctx, rng, faker, workerID, seq); err != nil && ctx.Err() == nil {
			s.logger.Debug("journey stopped", zap.Int("worker", workerID), zap.Error(err))
			continue
		}
		if ctx.Err() == nil {
			atomic.AddInt64(&s.metrics.Journeys, 1)
		}
	}
}

// journey walks one patient through register → book → session → finish.
func (s *Simulator) journey(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker, workerID, seq int) error {
	var patient struct {
		ID int64 `json:"id"`
	}
	err := s.call(ctx, &s.metrics.Register, http.MethodPost, s.config.PatientURL+"/patients", map[string]string{
		"first_name":   faker.FirstName(),
		"last_name":    faker.LastName(),
		"email":        fmt.Sprintf("sim.%d.%d.%d@%s", workerID, seq, time.Now().UnixNano(), faker.DomainName()),
		"phone_number": fmt.Sprintf("+1%d%d%d", workerID, seq, time.Now().UnixNano()%1_000_000),
	}, &patient)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	eligibleURL := fmt.Sprintf("%s/appointments/patient/%d/eligible", s.config.AppointmentURL, patient.ID)
	err = s.poll(ctx, &s.metrics.EligibilityWait, eligibleURL, func(body []byte) bool {
		var resp struct {
			Eligible bool `json:"eligible"`
		}
		return json.Unmarshal(body, &resp) == nil && resp.Eligible
	})
	if err != nil {
		return fmt.Errorf("eligibility: %w", err)
	}

	var appt struct {
		ID          int64     `json:"id"`
		DoctorID    int64     `json:"doctor_id"`
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	err = s.call(ctx, &s.metrics.Book, http.MethodPost, s.config.AppointmentURL+"/appointments", map[string]any{
		"patient_id":       patient.ID,
		"doctor_id":        int64(rng.Intn(s.config.Doctors) + 1),
		"scheduled_at":     time.Now().Add(time.Duration(rng.Intn(72)+1) * time.Hour).UTC(),
		"appointment_type": "VIDEO_CALL",
		"reason":           reasons[rng.Intn(len(reasons))],
	}, &appt)
	if err != nil {
		return fmt.Errorf("book: %w", err)
	}

	mappingURL := fmt.Sprintf("%s/mappings/%d", s.config.SessionURL, appt.ID)
	err = s.poll(ctx, &s.metrics.MappingWait, mappingURL, func(body []byte) bool {
		var resp struct {
			Status string `json:"status"`
		}
		return json.Unmarshal(body, &resp) == nil && resp.Status == "CONFIRMED"
	})
	if err != nil {
		return fmt.Errorf("mapping: %w", err)
	}

	var sess struct {
		ID string `json:"id"`
	}
	err = s.call(ctx, &s.metrics.CreateSession, http.MethodPost, s.config.SessionURL+"/sessions", map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     patient.ID,
		"doctor_id":      appt.DoctorID,
		"scheduled_time": appt.ScheduledAt,
	}, &sess)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if rng.Float64() < s.config.NoShowRatio {
		return s.call(ctx, &s.metrics.Finish, http.MethodPost, s.config.SessionURL+"/sessions/"+sess.ID+"/no-show", nil, nil)
	}

	if err := s.call(ctx, &s.metrics.Start, http.MethodPost, s.config.SessionURL+"/sessions/"+sess.ID+"/start", nil, nil); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return s.call(ctx, &s.metrics.Finish, http.MethodPost, s.config.SessionURL+"/sessions/"+sess.ID+"/complete", nil, nil)
}

// call sends one JSON request, records it, and decodes a 2xx body into out.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, url string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		om.Record(latency, false, true)
		return fmt.Errorf("%s %s: %d: %w", method, url, resp.StatusCode, errRejected)
	}
	om.Record(latency, true, false)

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// poll GETs url until ready accepts the body or PollTimeout elapses. The
// recorded latency is the propagation delay, not a single request.
func (s *Simulator) poll(ctx context.Context, om *OperationMetrics, url string, ready func(body []byte) bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.PollTimeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err == nil {
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && ready(buf.Bytes()) {
				om.Record(time.Since(start), true, false)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			om.Record(time.Since(start), false, false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Completed journeys: %d\n", atomic.LoadInt64(&s.metrics.Journeys))
	fmt.Println()

	printOperationReport("Register patient", &s.metrics.Register)
	printOperationReport("Eligibility propagation", &s.metrics.EligibilityWait)
	printOperationReport("Book appointment", &s.metrics.Book)
	printOperationReport("Mapping propagation", &s.metrics.MappingWait)
	printOperationReport("Create session", &s.metrics.CreateSession)
	printOperationReport("Start session", &s.metrics.Start)
	printOperationReport("Complete / no-show", &s.metrics.Finish)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}

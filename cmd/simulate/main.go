package main

import (
	"context"
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

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/api"
	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/client"
	"github.com/hackgods/femcare-appointments/internal/config"
	"github.com/hackgods/femcare-appointments/internal/db"
	"github.com/hackgods/femcare-appointments/internal/identity"
	"github.com/hackgods/femcare-appointments/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	HotTargets   int // distinct provider-day-slot targets the bookers fight over
	PostgresDSN  string
	Policy       appointment.Policy
}

// target is one provider-day-slot that several workers try to book.
type target struct {
	ProviderID uuid.UUID
	Date       time.Time
	Slot       appointment.Slot
}

func (t target) key() string {
	return t.ProviderID.String() + "|" + t.Date.Format(appointment.DateLayout) + "|" + t.Slot.Start
}

type booked struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
	Targets  []target

	mu           sync.RWMutex
	appointments []booked
	winners      map[string]int
}

func (dp *DataPool) AddAppointment(t target, id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, booked{ID: id, ProviderID: t.ProviderID})
	dp.winners[t.key()]++
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// DoubleBooked lists targets that more than one booking succeeded on.
func (dp *DataPool) DoubleBooked() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	var out []string
	for k, n := range dp.winners {
		if n > 1 {
			out = append(out, fmt.Sprintf("%s (%d)", k, n))
		}
	}
	sort.Strings(out)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Throttled int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeThrottled
	outcomeError
)

func classify(err error) outcome {
	var httpErr *client.HTTPError
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, appointment.ErrConflict), errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrStatusChanged):
		return outcomeConflict
	case errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests:
		return outcomeThrottled
	}
	return outcomeError
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeThrottled:
		atomic.AddInt64(&om.Throttled, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

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
	Booking          OperationMetrics
	Confirm          OperationMetrics
	Availability     OperationMetrics
	ListUpcoming     OperationMetrics
	ProviderCalendar OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	http    *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("read", cfg.ReadRatio).
		Int("hot_targets", cfg.HotTargets).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.Open(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}

	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Int("targets", len(dataPool.Targets)).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()

	if doubles := sim.PrintReport(); len(doubles) > 0 {
		os.Exit(2)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 5),
		HotTargets:   getInt("SIM_HOT_TARGETS", 40),
		PostgresDSN:  base.PostgresDSN,
		Policy:       base.Policy(),
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotTargets <= 0 {
		return fmt.Errorf("SIM_HOT_TARGETS must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{winners: make(map[string]int)}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run seed first")
	}

	days := upcomingWeekdays(cfg.Policy)
	if len(days) == 0 {
		return nil, fmt.Errorf("no bookable days within %d day horizon", cfg.Policy.HorizonDays)
	}

	slots := appointment.Slots()
	for i := 0; i < cfg.HotTargets; i++ {
		dataPool.Targets = append(dataPool.Targets, target{
			ProviderID: dataPool.Doctors[gofakeit.Number(0, len(dataPool.Doctors)-1)],
			Date:       days[gofakeit.Number(0, len(days)-1)],
			Slot:       slots[gofakeit.Number(0, len(slots)-1)],
		})
	}

	return dataPool, nil
}

func upcomingWeekdays(p appointment.Policy) []time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	today := time.Now().In(loc)

	var days []time.Time
	for i := 1; i <= p.HorizonDays; i++ {
		d := today.AddDate(0, 0, i)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
	}
	return days
}

func (s *Simulator) clientAs(p identity.Principal) *client.Client {
	return client.New(s.config.APIBaseURL, client.WithHTTPClient(s.http), client.WithPrincipal(p))
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doAvailability(ctx, rng)
			case 1:
				s.doListUpcoming(ctx, rng)
			case 2:
				s.doProviderCalendar(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomPatient(rng *rand.Rand) uuid.UUID {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	cat := appointment.Categories()[0]

	c := s.clientAs(identity.Principal{UserID: s.randomPatient(rng), Role: identity.RoleRequester})

	start := time.Now()
	resp, err := c.Book(ctx, api.CreateAppointmentRequest{
		ProviderID: t.ProviderID.String(),
		Date:       t.Date.Format(appointment.DateLayout),
		StartTime:  t.Slot.Start,
		EndTime:    t.Slot.End,
		Category:   cat.Name,
		Type:       cat.Types[rng.Intn(len(cat.Types))],
		Reason:     "load simulation",
	})
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.pool.AddAppointment(t, resp.ID)
	}
	s.metrics.Booking.Record(latency, classify(err))
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	c := s.clientAs(identity.Principal{UserID: appt.ProviderID, Role: identity.RoleProvider})

	start := time.Now()
	_, err := c.SetStatus(ctx, appt.ID, appointment.StatusConfirmed)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(time.Since(start), classify(err))
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	c := s.clientAs(identity.Principal{UserID: s.randomPatient(rng), Role: identity.RoleRequester})

	start := time.Now()
	_, err := c.Availability(ctx, t.ProviderID, t.Date)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Availability.Record(time.Since(start), classify(err))
}

func (s *Simulator) doListUpcoming(ctx context.Context, rng *rand.Rand) {
	c := s.clientAs(identity.Principal{UserID: s.randomPatient(rng), Role: identity.RoleRequester})

	start := time.Now()
	_, err := c.Upcoming(ctx, 20)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListUpcoming.Record(time.Since(start), classify(err))
}

func (s *Simulator) doProviderCalendar(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	c := s.clientAs(identity.Principal{UserID: t.ProviderID, Role: identity.RoleProvider})

	start := time.Now()
	_, err := c.ProviderCalendar(ctx, t.Date)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ProviderCalendar.Record(time.Since(start), classify(err))
}

// PrintReport writes the run summary and returns any double-booked targets.
func (s *Simulator) PrintReport() []string {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended targets: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List upcoming", &s.metrics.ListUpcoming)
	printOperationReport("Provider calendar", &s.metrics.ProviderCalendar)

	doubles := s.pool.DoubleBooked()
	if len(doubles) == 0 {
		fmt.Println("Double bookings: none")
	} else {
		fmt.Printf("Double bookings: %d\n", len(doubles))
		for _, d := range doubles {
			fmt.Printf("  %s\n", d)
		}
	}
	return doubles
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	throttled := atomic.LoadInt64(&om.Throttled)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if throttled > 0 {
		fmt.Printf("  Throttled: %d (%.1f%%)\n", throttled, pct(throttled))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
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

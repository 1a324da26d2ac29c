package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/config"
	"github.com/hackgods/femcare-appointments/internal/db"
	"github.com/hackgods/femcare-appointments/internal/logging"
)

var specialties = []string{
	"Obstetrics & Gynecology",
	"Gynecologic Oncology",
	"Reproductive Endocrinology",
	"Maternal-Fetal Medicine",
	"Urogynecology",
	"Family Planning",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)

	if cfg.StorageDriver != config.StorageDriverPostgres {
		logger.Fatal().Msg("seed writes to postgres, set STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Open(ctx, cfg.PostgresDSN, db.PoolOptions{}, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	ctx = context.Background()
	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, pool, envInt("SEED_DOCTORS", 20), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	patients, err := seedPatients(ctx, pool, envInt("SEED_PATIENTS", 2000), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, cfg.Policy(), logger)
	seedAppointments(ctx, svc, doctors, patients, envInt("SEED_APPOINTMENTS", 300), logger)

	logger.Info().Msg("seed complete")
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v >= 0 {
		return v
	}
	return def
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, specialty, email)
			VALUES ($1, $2, $3, $4)
		`, id, "Dr. "+gofakeit.Name(), spec, uniqueEmail(id))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, email, phone)
				VALUES ($1, $2, $3, $4)
			`, id, gofakeit.FirstName()+" "+gofakeit.LastName(), uniqueEmail(id), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		logger.Info().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}

	return ids, nil
}

// seedAppointments books through the service so every row passes the same
// checks as a real request and lands in the outbox.
func seedAppointments(ctx context.Context, svc *appointment.Service, doctors, patients []uuid.UUID, count int, logger zerolog.Logger) {
	if len(doctors) == 0 || len(patients) == 0 {
		return
	}
	logger.Info().Int("count", count).Msg("seeding appointments")

	days := bookableDays(svc.Policy())
	if len(days) == 0 {
		logger.Warn().Msg("no bookable days inside the horizon")
		return
	}

	slots := appointment.Slots()
	categories := appointment.Categories()

	var booked, conflicts int
	for i := 0; i < count; i++ {
		cat := categories[gofakeit.Number(0, len(categories)-1)]
		slot := slots[gofakeit.Number(0, len(slots)-1)]

		_, err := svc.Book(ctx, appointment.BookingRequest{
			RequesterID: patients[gofakeit.Number(0, len(patients)-1)],
			ProviderID:  doctors[gofakeit.Number(0, len(doctors)-1)],
			Date:        days[gofakeit.Number(0, len(days)-1)],
			Slot:        slot,
			Category:    cat.Name,
			Type:        cat.Types[gofakeit.Number(0, len(cat.Types)-1)],
			Reason:      gofakeit.Sentence(6),
		})
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrConflict), errors.Is(err, appointment.ErrValidation):
			conflicts++
		default:
			logger.Error().Err(err).Msg("booking failed")
			return
		}
	}

	logger.Info().Int("booked", booked).Int("skipped", conflicts).Msg("appointments seeded")
}

// bookableDays lists weekdays from tomorrow through the horizon.
func bookableDays(p appointment.Policy) []time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	today := time.Now().In(loc)

	var days []time.Time
	for i := 1; i <= p.HorizonDays; i++ {
		d := today.AddDate(0, 0, i)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
	}
	return days
}

func uniqueEmail(id uuid.UUID) string {
	return fmt.Sprintf("%s.%s@%s", gofakeit.Username(), id.String()[:8], gofakeit.DomainName())
}

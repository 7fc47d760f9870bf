package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/medbooking/config"
	"github.com/jwalitptl/medbooking/internal/app"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/logger"
)

const seedPassword = "medbooking-demo"

func main() {
	doctors := flag.Int("doctors", 10, "number of doctors")
	patients := flag.Int("patients", 100, "number of patients")
	bookings := flag.Int("appointments", 200, "appointments to attempt")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig()).With("process", "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	infra, err := app.Open(ctx, cfg, appLogger, nil)
	if err != nil {
		appLogger.Fatal(err, "failed to open infrastructure")
	}
	defer infra.Close()

	svcs, err := app.NewServices(infra.Deps(cfg, appLogger))
	if err != nil {
		appLogger.Fatal(err, "failed to build services")
	}
	if infra.BrokerBus == nil {
		svcs.RegisterHandlers(infra.Bus)
	}

	gofakeit.Seed(time.Now().UnixNano())

	s := &seeder{svcs: svcs, log: appLogger}
	docs, err := s.users(ctx, *doctors, policy.RoleDoctor)
	if err != nil {
		appLogger.Fatal(err, "failed to seed doctors")
	}
	if err := s.availability(ctx, docs); err != nil {
		appLogger.Fatal(err, "failed to seed availability")
	}
	pats, err := s.users(ctx, *patients, policy.RolePatient)
	if err != nil {
		appLogger.Fatal(err, "failed to seed patients")
	}
	booked, err := s.appointments(ctx, docs, pats, *bookings)
	if err != nil {
		appLogger.Fatal(err, "failed to seed appointments")
	}

	appLogger.Info("seed complete", "doctors", len(docs), "patients", len(pats), "appointments", booked, "password", seedPassword)
}

type seeder struct {
	svcs *app.Services
	log  *logger.Logger
}

func (s *seeder) users(ctx context.Context, count int, role policy.Role) ([]policy.Principal, error) {
	out := make([]policy.Principal, 0, count)
	for i := 0; i < count; i++ {
		email := fmt.Sprintf("%s.%d.%s", role, i, gofakeit.Email())
		u, err := s.svcs.Account.Register(ctx, model.RegisterRequest{
			Email:    email,
			Name:     gofakeit.Name(),
			Password: seedPassword,
			Role:     string(role),
		})
		if apperrors.Is(err, apperrors.KindConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, policy.Principal{ID: u.ID, Role: role, Email: u.Email})
	}
	s.log.Info("users seeded", "role", string(role), "count", len(out))
	return out, nil
}

// availability gives every doctor a morning and an afternoon window on
// weekdays.
func (s *seeder) availability(ctx context.Context, docs []policy.Principal) error {
	windows := [][2]string{{"08:00", "12:00"}, {"13:00", "17:30"}}
	for _, doc := range docs {
		for day := 1; day <= 5; day++ {
			for _, w := range windows {
				d := day
				_, err := s.svcs.Availability.CreateSlot(ctx, doc, model.CreateSlotRequest{
					DoctorID:  doc.ID,
					DayOfWeek: &d,
					StartTime: w[0],
					EndTime:   w[1],
				})
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// appointments books random visits over the next two weeks. Collisions and
// instants outside availability are expected and skipped.
func (s *seeder) appointments(ctx context.Context, docs, pats []policy.Principal, attempts int) (int, error) {
	if len(docs) == 0 || len(pats) == 0 {
		return 0, nil
	}
	base := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	booked := 0
	for i := 0; i < attempts; i++ {
		doc := docs[gofakeit.Number(0, len(docs)-1)]
		pat := pats[gofakeit.Number(0, len(pats)-1)]
		at := base.
			Add(time.Duration(gofakeit.Number(0, 13)) * 24 * time.Hour).
			Add(time.Duration(gofakeit.Number(16, 34)) * 30 * time.Minute)

		appt, err := s.svcs.Appointment.Create(ctx, pat, model.CreateAppointmentRequest{
			PatientID:   pat.ID,
			DoctorID:    doc.ID,
			ScheduledAt: at,
			Notes:       "Follow-up: " + gofakeit.Word(),
		})
		if err != nil {
			if apperrors.Is(err, apperrors.KindValidation) || apperrors.Is(err, apperrors.KindConflict) {
				continue
			}
			return booked, err
		}
		booked++

		if gofakeit.Bool() {
			if _, err := s.svcs.Appointment.Confirm(ctx, doc, appt.ID); err != nil {
				return booked, err
			}
			apptID := appt.ID
			_, err := s.svcs.Payment.Create(ctx, pat, model.CreatePaymentRequest{
				UserID:        pat.ID,
				AppointmentID: &apptID,
				Amount:        gofakeit.Price(40, 250),
				Currency:      "EUR",
				Method:        gofakeit.RandomString([]string{"card", "bank_transfer", "cash"}),
			})
			if err != nil {
				return booked, err
			}
		}
	}
	return booked, nil
}

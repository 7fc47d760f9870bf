// Package report keeps clinical reports attached to appointments. Each
// report has two independent visibility flags, one per role.
package report

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/security"
)

const entityType = "report"

const (
	actionCreateDoctor  = "reports.report.createByDoctor"
	actionCreatePatient = "reports.report.createByPatient"
	actionVisibility    = "reports.report.updateVisibility"
	actionRemove        = "reports.report.remove"
	actionList          = "reports.report.listByAppointment"
)

// AppointmentLookup reads the appointment a report is attached to.
type AppointmentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
}

type Service struct {
	tx           repository.Transactor
	repo         repository.ReportRepository
	appointments AppointmentLookup
	bus          event.Bus
	policy       *policy.Policy
	enc          security.Encryptor
	log          *logger.Logger
}

// NewService wires the vault. enc may be nil, in which case notes are
// stored in clear.
func NewService(
	tx repository.Transactor,
	repo repository.ReportRepository,
	appointments AppointmentLookup,
	bus event.Bus,
	pol *policy.Policy,
	enc security.Encryptor,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		tx:           tx,
		repo:         repo,
		appointments: appointments,
		bus:          bus,
		policy:       pol,
		enc:          enc,
		log:          log.With("service", "report"),
	}
}

// CreateByDoctor publishes a report written by the appointment's doctor.
// It is visible to the patient unless asked otherwise.
func (s *Service) CreateByDoctor(ctx context.Context, p policy.Principal, req model.CreateReportRequest) (*model.Report, error) {
	rep, err := s.create(ctx, p, req, policy.RoleDoctor)
	if err != nil {
		s.fail(ctx, p, actionCreateDoctor, nil, err, map[string]interface{}{"appointment_id": req.AppointmentID.String()})
		return nil, err
	}
	s.published(ctx, p, rep, actionCreateDoctor)
	return rep, nil
}

// CreateByPatient attaches a document uploaded by the appointment's patient.
func (s *Service) CreateByPatient(ctx context.Context, p policy.Principal, req model.CreateReportRequest) (*model.Report, error) {
	rep, err := s.create(ctx, p, req, policy.RolePatient)
	if err != nil {
		s.fail(ctx, p, actionCreatePatient, nil, err, map[string]interface{}{"appointment_id": req.AppointmentID.String()})
		return nil, err
	}
	s.published(ctx, p, rep, actionCreatePatient)
	return rep, nil
}

func (s *Service) create(ctx context.Context, p policy.Principal, req model.CreateReportRequest, as policy.Role) (*model.Report, error) {
	if p.Role != as && !p.IsAdmin() {
		return nil, apperrors.Forbidden("only a " + string(as) + " or an admin can create this report")
	}
	if req.ReportURL == "" {
		return nil, apperrors.Invalid("report_url is required").WithData("field", "report_url")
	}
	appt, err := s.appointments.Get(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	owner := appt.DoctorID
	if as == policy.RolePatient {
		owner = appt.PatientID
	}
	if !p.IsAdmin() && p.ID != owner {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}

	notes, err := security.SealString(s.enc, req.Notes)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to encrypt report notes")
	}
	rep := &model.Report{
		AppointmentID:    appt.ID,
		AuthorID:         p.ID,
		AuthorRole:       string(as),
		Title:            req.Title,
		Notes:            notes,
		ReportURL:        req.ReportURL,
		MimeType:         req.MimeType,
		SizeBytes:        req.SizeBytes,
		VisibleToPatient: boolOr(req.VisibleToPatient, true),
		VisibleToDoctor:  boolOr(req.VisibleToDoctor, true),
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, err
	}
	return s.open(rep)
}

func (s *Service) published(ctx context.Context, p policy.Principal, rep *model.Report, action string) {
	md := map[string]interface{}{
		"appointment_id":     rep.AppointmentID.String(),
		"author_role":        rep.AuthorRole,
		"visible_to_patient": rep.VisibleToPatient,
		"visible_to_doctor":  rep.VisibleToDoctor,
	}
	if appt, err := s.appointments.Get(ctx, rep.AppointmentID); err == nil {
		md["patient_id"] = appt.PatientID.String()
		md["doctor_id"] = appt.DoctorID.String()
	}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.ReportPublished, p.Actor(), entityType, rep.ID, event.StatusOK, md),
		event.Record(p.Actor(), action, entityType, rep.ID, event.StatusOK, md),
	)
}

// Get returns the report if the caller's role may see it.
func (s *Service) Get(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Report, error) {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	appt, err := s.appointments.Get(ctx, rep.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(s.policy.CanView(p, appt.PatientID, appt.DoctorID), "not a participant of this appointment"); err != nil {
		return nil, err
	}
	if !s.policy.CanSeeReport(p, view(rep)) {
		// hidden reports look missing to the caller
		return nil, apperrors.NotFound("report", id)
	}
	return s.open(rep)
}

// ListByAppointment returns the reports of an appointment the caller takes
// part in, filtered by visibility.
func (s *Service) ListByAppointment(ctx context.Context, p policy.Principal, appointmentID uuid.UUID) ([]*model.Report, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(s.policy.CanView(p, appt.PatientID, appt.DoctorID), "not a participant of this appointment"); err != nil {
		s.fail(ctx, p, actionList, nil, err, map[string]interface{}{"appointment_id": appointmentID.String()})
		return nil, err
	}

	all, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to list reports")
	}
	out := make([]*model.Report, 0, len(all))
	for _, rep := range all {
		if !s.policy.CanSeeReport(p, view(rep)) {
			continue
		}
		opened, err := s.open(rep)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

// UpdateVisibility sets either flag. Only the author or an admin may do it;
// a request changing nothing emits nothing.
func (s *Service) UpdateVisibility(ctx context.Context, p policy.Principal, id uuid.UUID, req model.UpdateVisibilityRequest) (*model.Report, error) {
	var (
		rep     *model.Report
		prev    map[string]interface{}
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := policy.Require(s.policy.CanEditReport(p, rep.AuthorID), "only the author or an admin can change visibility"); err != nil {
			return err
		}
		prev = flags(rep)
		if req.VisibleToPatient != nil && *req.VisibleToPatient != rep.VisibleToPatient {
			rep.VisibleToPatient = *req.VisibleToPatient
			changed = true
		}
		if req.VisibleToDoctor != nil && *req.VisibleToDoctor != rep.VisibleToDoctor {
			rep.VisibleToDoctor = *req.VisibleToDoctor
			changed = true
		}
		if !changed {
			return nil
		}
		return s.repo.UpdateVisibility(ctx, rep)
	})
	if err != nil {
		s.fail(ctx, p, actionVisibility, id, err, nil)
		return nil, err
	}

	if changed {
		md := map[string]interface{}{
			"appointment_id": rep.AppointmentID.String(),
			"from":           prev,
			"to":             flags(rep),
		}
		repository.AfterCommit(ctx, func(ctx context.Context) {
			event.Emit(ctx, s.bus, s.log,
				event.New(event.ReportVisibilityChanged, p.Actor(), entityType, rep.ID, event.StatusOK, md),
				event.Record(p.Actor(), actionVisibility, entityType, rep.ID, event.StatusOK, md),
			)
		})
	}
	return s.open(rep)
}

// Remove deletes a report. Author or admin only.
func (s *Service) Remove(ctx context.Context, p policy.Principal, id uuid.UUID) error {
	rep, err := s.repo.Get(ctx, id)
	if err == nil {
		err = policy.Require(s.policy.CanEditReport(p, rep.AuthorID), "only the author or an admin can remove a report")
	}
	if err == nil {
		err = s.repo.Delete(ctx, id)
	}
	if err != nil {
		s.fail(ctx, p, actionRemove, id, err, nil)
		return err
	}

	md := map[string]interface{}{"appointment_id": rep.AppointmentID.String()}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.ReportDeleted, p.Actor(), entityType, rep.ID, event.StatusOK, md),
		event.Record(p.Actor(), actionRemove, entityType, rep.ID, event.StatusOK, md),
	)
	return nil
}

func (s *Service) open(rep *model.Report) (*model.Report, error) {
	notes, err := security.OpenString(s.enc, rep.Notes)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to decrypt report notes")
	}
	out := *rep
	out.Notes = notes
	return &out, nil
}

func (s *Service) fail(ctx context.Context, p policy.Principal, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(p.Actor(), action, entityType, entityID, err, extra))
}

func view(rep *model.Report) policy.ReportView {
	return policy.ReportView{
		AuthorID:         rep.AuthorID,
		VisibleToPatient: rep.VisibleToPatient,
		VisibleToDoctor:  rep.VisibleToDoctor,
	}
}

func flags(rep *model.Report) map[string]interface{} {
	return map[string]interface{}{
		"visible_to_patient": rep.VisibleToPatient,
		"visible_to_doctor":  rep.VisibleToDoctor,
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

package repository

// Repositories bundles every store a process needs.
type Repositories struct {
	Tx            Transactor
	Appointments  AppointmentRepository
	Availability  AvailabilityRepository
	Payments      PaymentRepository
	Reports       ReportRepository
	Notifications NotificationRepository
	Audit         AuditRepository
	Outbox        OutboxRepository
	Users         UserRepository
}

package event

// Event names. Each producer owns its own prefix.
const (
	LogsRecord      = "logs.record"
	LogsRecordError = "logs.record.error"

	AppointmentCreated       = "appointments.appointment.created"
	AppointmentStatusChanged = "appointments.appointment.statusChanged"
	AppointmentConfirmed     = "appointments.appointment.confirmed"
	AppointmentCompleted     = "appointments.appointment.completed"
	AppointmentCancelled     = "appointments.appointment.cancelled"
	AppointmentRescheduled   = "appointments.appointment.rescheduled"
	AppointmentDeleted       = "appointments.appointment.deleted"

	SlotCreated = "availability.slot.created"
	SlotUpdated = "availability.slot.updated"
	SlotDeleted = "availability.slot.deleted"

	PaymentCreated        = "payments.payment.created"
	PaymentStatusChanged  = "payments.payment.statusChanged"
	PaymentCompleted      = "payments.payment.completed"
	PaymentFailed         = "payments.payment.failed"
	PaymentRefunded       = "payments.payment.refunded"
	PaymentProviderLinked = "payments.payment.providerLinked"
	PaymentDeleted        = "payments.payment.deleted"

	ReportPublished         = "reports.report.published"
	ReportVisibilityChanged = "reports.report.visibilityChanged"
	ReportDeleted           = "reports.report.deleted"

	NotificationCreated     = "notifications.notification.created"
	NotificationSent        = "notifications.notification.sent"
	NotificationFailed      = "notifications.notification.failed"
	NotificationAlreadySent = "notifications.notification.alreadySent"
	NotificationsPruned     = "notifications.pruned"

	UserCreated                = "users.user.created"
	UserDeleted                = "users.user.deleted"
	UserRoleChanged            = "users.user.roleChanged"
	UserPasswordResetRequested = "users.user.password.reset.requested"
	UserPasswordReset          = "users.password.reset"
)

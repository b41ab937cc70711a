package notify

import (
	"context"

	"github.com/clinicore/clinicsync/internal/store"
)

// Domain senders: thin policy wrappers that compute the target set and
// priority for a clinical event, then hand off to Send. Target roles mirror
// the clinic's staffing model.

func (d *Dispatcher) AssignmentCreated(ctx context.Context, assigneeUserID, patientName, assignmentPriority string, data map[string]any) Payload {
	priority := store.PriorityMedium
	if assignmentPriority == "URGENT" {
		priority = store.PriorityUrgent
	}

	return d.Send(ctx, Notification{
		Type:     store.NotificationPatientAssignment,
		Title:    "New Patient Assignment",
		Message:  "You have been assigned to patient: " + patientName,
		Data:     data,
		Priority: priority,
	}, Target{Users: []string{assigneeUserID}})
}

func (d *Dispatcher) PrescriptionChanged(ctx context.Context, patientName, verb string, data map[string]any) Payload {
	return d.Send(ctx, Notification{
		Type:     store.NotificationPrescriptionUpdate,
		Title:    "Prescription " + verb,
		Message:  "Prescription for patient " + patientName + " has been " + verb,
		Data:     data,
		Priority: store.PriorityMedium,
	}, Target{Roles: []string{"PHARMACIST", "CLINICAL_OFFICER"}})
}

func (d *Dispatcher) LabResultReady(ctx context.Context, patientName, urgency string, data map[string]any) Payload {
	priority := store.PriorityMedium
	if urgency == "URGENT" {
		priority = store.PriorityUrgent
	}

	return d.Send(ctx, Notification{
		Type:     store.NotificationLabResult,
		Title:    "Lab Result Available",
		Message:  "Lab results for patient " + patientName + " are available",
		Data:     data,
		Priority: priority,
	}, Target{Roles: []string{"CLINICAL_OFFICER", "NURSE"}})
}

func (d *Dispatcher) VisitScheduled(ctx context.Context, patientName string, data map[string]any) Payload {
	return d.Send(ctx, Notification{
		Type:     store.NotificationVisitUpdate,
		Title:    "Visit Scheduled",
		Message:  "Visit for patient " + patientName + " has been scheduled",
		Data:     data,
		Priority: store.PriorityMedium,
	}, Target{Roles: []string{"CLINICAL_OFFICER", "NURSE", "RECEPTIONIST"}})
}

func (d *Dispatcher) PaymentReceived(ctx context.Context, amount, invoiceNumber string, data map[string]any) Payload {
	return d.Send(ctx, Notification{
		Type:     store.NotificationPaymentReceived,
		Title:    "Payment Received",
		Message:  "Payment of " + amount + " has been received for invoice " + invoiceNumber,
		Data:     data,
		Priority: store.PriorityMedium,
	}, Target{Roles: []string{"ADMIN", "CASHIER", "CLAIMS_MANAGER"}})
}

func (d *Dispatcher) UserChanged(ctx context.Context, username, verb string, data map[string]any) Payload {
	return d.Send(ctx, Notification{
		Type:     store.NotificationSystemAlert,
		Title:    "User " + verb,
		Message:  "User " + username + " has been " + verb,
		Data:     data,
		Priority: store.PriorityLow,
	}, Target{Roles: []string{"ADMIN"}})
}

package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/pkg/config"
	"github.com/cursolab/gestao-api/pkg/jobs"
)

// Mailer delivers a single message. The real implementation lives with
// the email infrastructure; delivery failures here are retried by the
// queue a bounded number of times and then dropped.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer is the default Mailer: it only logs deliveries. Useful for
// development and as a stand-in while the SMTP collaborator is absent.
type LogMailer struct {
	Logger *zap.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	if m.Logger != nil {
		m.Logger.Info("email dispatched", zap.String("to", to), zap.String("subject", subject))
	}
	return nil
}

type emailPayload struct {
	To      string
	Subject string
	Body    string
}

// Notifier dispatches enrollment lifecycle emails asynchronously.
// Dispatch is fire-and-forget: enqueue failures are logged and never
// propagate to the business operation that triggered them.
type Notifier struct {
	queue  *jobs.Queue
	mailer Mailer
	logger *zap.Logger
}

// NewNotifier constructs the Notifier and its backing queue.
func NewNotifier(mailer Mailer, cfg config.NotificationsConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{mailer: mailer, logger: logger}
	n.queue = jobs.NewQueue("notifications", n.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return n
}

// Start begins queue consumption.
func (n *Notifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the workers.
func (n *Notifier) Stop() {
	n.queue.Stop()
}

// ClassEnded notifies every affected student that the class completed.
func (n *Notifier) ClassEnded(class *models.Class, recipients []models.EnrollmentDetail) {
	subject := fmt.Sprintf("Turma %s concluída", class.Name)
	for _, rec := range recipients {
		body := fmt.Sprintf("Olá %s, a turma %s foi concluída. Parabéns!", rec.StudentName, class.Name)
		n.enqueue("class_ended", rec.StudentEmail, subject, body)
	}
}

// ClassCancelled notifies every affected student that the class was
// cancelled and their enrollment released.
func (n *Notifier) ClassCancelled(class *models.Class, recipients []models.EnrollmentDetail) {
	subject := fmt.Sprintf("Turma %s cancelada", class.Name)
	for _, rec := range recipients {
		body := fmt.Sprintf("Olá %s, a turma %s foi cancelada e sua matrícula foi encerrada.", rec.StudentName, class.Name)
		n.enqueue("class_cancelled", rec.StudentEmail, subject, body)
	}
}

func (n *Notifier) enqueue(kind, to, subject, body string) {
	if to == "" {
		return
	}
	err := n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    kind,
		Payload: emailPayload{To: to, Subject: subject, Body: body},
	})
	if err != nil {
		n.logger.Warn("notification enqueue failed", zap.String("type", kind), zap.String("to", to), zap.Error(err))
	}
}

func (n *Notifier) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailPayload)
	if !ok {
		n.logger.Error("notification payload has unexpected type", zap.String("job_id", job.ID))
		return nil
	}
	return n.mailer.Send(ctx, payload.To, payload.Subject, payload.Body)
}

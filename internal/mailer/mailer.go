package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/qreahq/qrea-backend/pkg/config"
	"github.com/qreahq/qrea-backend/pkg/enums"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// Sender is the transport surface, satisfied by the SendGrid client.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// PaymentDetails carries the billing figures email bodies display.
type PaymentDetails struct {
	AmountCents  int64
	Currency     string
	AttemptCount int64
}

type ServiceParams struct {
	Config config.SendgridConfig
	Sender Sender
	Logger *logger.Logger
}

// Service renders and sends transactional billing emails.
type Service struct {
	from      *mail.Email
	sender    Sender
	logg      *logger.Logger
	templates *template.Template
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail sender required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if strings.TrimSpace(params.Config.DefaultFrom) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sender address required")
	}

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse mail templates")
	}

	return &Service{
		from:      mail.NewEmail(params.Config.FromName, params.Config.DefaultFrom),
		sender:    params.Sender,
		logg:      params.Logger,
		templates: templates,
	}, nil
}

// NewSendgridSender builds the production SendGrid transport.
func NewSendgridSender(cfg config.SendgridConfig) (Sender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sendgrid api key required")
	}
	return sendgrid.NewSendClient(cfg.APIKey), nil
}

// SendPaymentSuccess confirms a successful charge.
func (s *Service) SendPaymentSuccess(ctx context.Context, to, name string, details PaymentDetails) error {
	data := map[string]any{
		"UserName": displayName(name, to),
		"Amount":   formatAmount(details.AmountCents),
		"Currency": strings.ToUpper(details.Currency),
		"Date":     time.Now().Format("02/01/2006 15:04"),
	}
	return s.send(ctx, to, "Pagamento Confermato - Qrea", "payment-success.html", data)
}

// SendPaymentFailed warns about a failed charge attempt.
func (s *Service) SendPaymentFailed(ctx context.Context, to, name string, details PaymentDetails) error {
	attempts := details.AttemptCount
	if attempts < 1 {
		attempts = 1
	}
	data := map[string]any{
		"UserName":     displayName(name, to),
		"Amount":       formatAmount(details.AmountCents),
		"Currency":     strings.ToUpper(details.Currency),
		"AttemptCount": attempts,
		"Date":         time.Now().Format("02/01/2006 15:04"),
	}
	return s.send(ctx, to, "Pagamento Non Riuscito - Qrea", "payment-failed.html", data)
}

// SendSuspension notifies that account access was suspended.
func (s *Service) SendSuspension(ctx context.Context, to, name string, reason enums.SuspensionReason) error {
	data := map[string]any{
		"UserName":         displayName(name, to),
		"SuspensionReason": suspensionReasonText(reason),
	}
	return s.send(ctx, to, "Account Qrea Sospeso - Azione Richiesta", "profile-suspended.html", data)
}

// SendReactivation notifies that access was restored.
func (s *Service) SendReactivation(ctx context.Context, to, name string) error {
	data := map[string]any{"UserName": displayName(name, to)}
	return s.send(ctx, to, "Account Qrea Riattivato", "profile-reactivated.html", data)
}

// SendSubscriptionEnded notifies that the paid plan lapsed.
func (s *Service) SendSubscriptionEnded(ctx context.Context, to, name string) error {
	data := map[string]any{"UserName": displayName(name, to)}
	return s.send(ctx, to, "Abbonamento Pro Terminato", "subscription-ended.html", data)
}

func (s *Service) send(ctx context.Context, to, subject, templateName string, data map[string]any) error {
	if strings.TrimSpace(to) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient address required")
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render mail template")
	}

	message := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", to), "", body.String())
	resp, err := s.sender.SendWithContext(ctx, message)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send mail")
	}
	if resp != nil && resp.StatusCode >= 400 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid returned status %d", resp.StatusCode))
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"template": templateName})
	s.logg.Info(ctx, "transactional email sent")
	return nil
}

func suspensionReasonText(reason enums.SuspensionReason) string {
	switch reason {
	case enums.SuspensionReasonPaymentFailed:
		return "Problema con il pagamento"
	case enums.SuspensionReasonDraftPayment:
		return "Pagamento in sospeso o non completato"
	default:
		return "Motivo non specificato"
	}
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}

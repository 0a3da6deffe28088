package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"douly-backend/internal/markup"
	"douly-backend/internal/metrics"
	"douly-backend/internal/models"
)

// LeadNotification is what the notification sink delivers.
type LeadNotification struct {
	RecipientEmail string
	AdminEmail     string
	UserName       string
	CompanyName    string
	Transcript     string
	Audit          models.Audit
}

type NotificationSink interface {
	SendLeadNotification(ctx context.Context, n LeadNotification) error
}

type LeadArchive interface {
	Save(ctx context.Context, lead *models.Lead) error
}

// Decision is the outcome of one trigger evaluation. Turn is set whenever the
// trigger fired, so the visitor always gets feedback.
type Decision struct {
	Fired bool
	Sent  bool
	Turn  *models.ChatTurn
}

type Notifier struct {
	sink         NotificationSink
	archive      LeadArchive
	adminEmail   string
	threshold    int
	contactPhone string
}

// NewNotifier builds the trigger. archive may be nil when no database is
// configured.
func NewNotifier(sink NotificationSink, archive LeadArchive, adminEmail string, threshold int, contactPhone string) *Notifier {
	return &Notifier{
		sink:         sink,
		archive:      archive,
		adminEmail:   adminEmail,
		threshold:    threshold,
		contactPhone: contactPhone,
	}
}

// ShouldFire reports whether the trigger preconditions hold. The email is
// required since it is the recipient of the confirmation.
func (n *Notifier) ShouldFire(p models.Profile, score int, alreadySent bool) bool {
	return !alreadySent && score >= n.threshold && p.Email != ""
}

// MaybeFire submits the lead once the profile is complete enough. Sent is
// true only when the sink accepted the notification.
func (n *Notifier) MaybeFire(ctx context.Context, sessionID string, p models.Profile, score int, history []models.ChatTurn, alreadySent bool) Decision {
	if !n.ShouldFire(p, score, alreadySent) {
		return Decision{}
	}

	transcript := BuildTranscript(history)
	audit := BuildAudit(history)
	err := n.sink.SendLeadNotification(ctx, LeadNotification{
		RecipientEmail: p.Email,
		AdminEmail:     n.adminEmail,
		UserName:       p.FullName,
		CompanyName:    p.Company,
		Transcript:     transcript,
		Audit:          audit,
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		log.Printf("notifier: lead notification for session %s failed: %v", sessionID, err)
		apology := n.turn(n.apologyText())
		apology.Transient = true
		return Decision{Fired: true, Turn: apology}
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()

	if n.archive != nil {
		lead := &models.Lead{
			SessionID:  sessionID,
			FullName:   p.FullName,
			Company:    p.Company,
			Email:      p.Email,
			Sector:     audit.Sector,
			Score:      score,
			Transcript: transcript,
			NotifiedAt: time.Now().UTC(),
		}
		if err := n.archive.Save(ctx, lead); err != nil {
			log.Printf("notifier: archiving lead for session %s failed: %v", sessionID, err)
		}
	}

	return Decision{Fired: true, Sent: true, Turn: n.turn(confirmationText(p))}
}

func confirmationText(p models.Profile) string {
	name := p.FullName
	if name == "" {
		name = "merci"
	}
	return fmt.Sprintf("C'est noté, **%s** ! Un consultant **DOULIA** a reçu votre demande et vous recontacte très vite à **%s**.", name, p.Email)
}

func (n *Notifier) apologyText() string {
	return fmt.Sprintf("Je n'ai pas pu transmettre votre demande à l'équipe. Contactez-nous directement au **%s**.", n.contactPhone)
}

func (n *Notifier) turn(text string) *models.ChatTurn {
	return &models.ChatTurn{
		Role:      models.RoleModel,
		Text:      text,
		HTML:      markup.Format(text),
		CreatedAt: time.Now(),
	}
}

// BuildTranscript renders the conversation as plain text, one line per turn.
func BuildTranscript(history []models.ChatTurn) string {
	var b strings.Builder
	for _, turn := range history {
		speaker := "Visiteur"
		if turn.Role == models.RoleModel {
			speaker = "Douly"
		}
		text := turn.Text
		if turn.HTML != "" {
			text = turn.HTML
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(markup.PlainText(text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

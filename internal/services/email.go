package services

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/smtp"
	"strings"

	"douly-backend/internal/models"
)

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
}

func NewEmailService(host, port, user, pass, from, frontendURL string) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Println("⚠ Email service running in DEV MODE (logging to console)")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
	}
}

// SendLeadNotification mails the transcript to the agency and a short
// confirmation to the visitor. The admin mail is the delivery that counts:
// a failed confirmation is only logged.
func (s *EmailService) SendLeadNotification(ctx context.Context, n LeadNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := n.UserName
	if name == "" {
		name = "Visiteur"
	}

	adminSubject := fmt.Sprintf("Nouveau prospect Douly: %s", name)
	if n.CompanyName != "" {
		adminSubject += fmt.Sprintf(" (%s)", n.CompanyName)
	}
	adminBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #030712;">
  <div style="max-width: 640px; margin: 40px auto; background: white; border-radius: 12px; overflow: hidden;">
    <div style="background: #CBEF43; padding: 24px;">
      <h1 style="color: #030712; margin: 0; font-size: 22px; font-weight: 700;">Nouveau prospect</h1>
    </div>
    <div style="padding: 24px;">
      <p style="color: #1e293b; font-size: 14px; margin: 0 0 8px;"><b>Nom:</b> %s</p>
      <p style="color: #1e293b; font-size: 14px; margin: 0 0 8px;"><b>Entreprise:</b> %s</p>
      <p style="color: #1e293b; font-size: 14px; margin: 0 0 16px;"><b>Email:</b> %s</p>
%s
      <pre style="white-space: pre-wrap; background: #f8fafc; padding: 16px; border-radius: 8px; font-size: 13px; color: #334155;">%s</pre>
    </div>
  </div>
</body>
</html>`, html.EscapeString(name), html.EscapeString(n.CompanyName), html.EscapeString(n.RecipientEmail), auditHTML(n.Audit), html.EscapeString(n.Transcript))

	if err := s.sendHTML(n.AdminEmail, adminSubject, adminBody); err != nil {
		return err
	}

	if n.RecipientEmail == "" {
		return nil
	}

	userSubject := "Votre échange avec Douly"
	userBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: #030712; padding: 32px; text-align: center;">
      <h1 style="color: #CBEF43; margin: 0; font-size: 24px; font-weight: 700;">DOULIA</h1>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">Merci %s !</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">
        Un consultant DOULIA a bien reçu votre demande et vous recontacte très vite.
      </p>
      <a href="%s" style="display: inline-block; background: #CBEF43; color: #030712; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        Reprendre la conversation
      </a>
    </div>
  </div>
</body>
</html>`, html.EscapeString(name), s.frontendURL)

	if err := s.sendHTML(n.RecipientEmail, userSubject, userBody); err != nil {
		log.Printf("⚠ Confirmation email to %s failed: %v", n.RecipientEmail, err)
	}
	return nil
}

// auditHTML renders the diagnostic block of the admin mail. It is empty when
// nothing was detected.
func auditHTML(a models.Audit) string {
	if a.Sector == "" && a.Size == "" && len(a.Pains) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`      <div style="background: #f1f5f9; padding: 16px; border-radius: 8px; margin: 0 0 16px; font-size: 13px; color: #1e293b;">` + "\n")
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "        <p style=\"margin: 0 0 6px;\"><b>%s:</b> %s</p>\n", label, html.EscapeString(value))
		}
	}
	row("Secteur", a.Sector)
	row("Taille", a.Size)
	row("Points de douleur", strings.Join(a.Pains, ", "))
	row("Pack recommandé", a.Recommendation)
	row("ROI potentiel", a.PotentialROI)
	b.WriteString("      </div>")
	return b.String()
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		log.Printf("📧 [DEV EMAIL] To: %s | Subject: %s", to, subject)
		log.Printf("📧 Body:\n%s", htmlBody)
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}

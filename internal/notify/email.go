package notify

import (
	"FetchVault/config"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"strings"

	"github.com/jordan-wright/email"
)

// TaskTerminal sends a best-effort notification that a task reached a
// terminal state. No-op unless NOTIFY_EMAIL is configured.
func TaskTerminal(taskID, status, label string) {
	to := config.AppConfig.NotifyEmail
	if to == "" {
		return
	}
	subject := fmt.Sprintf("Task %s %s", taskID, status)
	title := label
	if title == "" {
		title = taskID
	}
	body := fmt.Sprintf(`
		<h2>Task update</h2>
		<p><b>%s</b> finished with status <b>%s</b>.</p>
	`, title, status)
	if err := sendMail(to, subject, body); err != nil {
		log.Printf("notify: mail failed for task %s: %v", taskID, err)
	}
}

func sendMail(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return errors.New("smtp config missing")
	}

	e := email.NewEmail()
	e.From = from
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(body)

	addr := host + ":" + port
	auth := smtp.PlainAuth("", user, pass, host)
	tlsConfig := &tls.Config{ServerName: host}
	useTLS := strings.EqualFold(os.Getenv("SMTP_TLS"), "true") ||
		os.Getenv("SMTP_TLS") == "1" ||
		port == "465"
	useStartTLS := strings.EqualFold(os.Getenv("SMTP_STARTTLS"), "true") ||
		os.Getenv("SMTP_STARTTLS") == "1"

	if useTLS {
		return e.SendWithTLS(addr, auth, tlsConfig)
	}
	if useStartTLS {
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	}
	return e.Send(addr, auth)
}

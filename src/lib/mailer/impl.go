package mailer

import (
	"context"
	"log"
	"lovia/src/lib"
	awslib "lovia/src/lib/aws"
	"os"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New picks the mail transport from MAIL_DRIVER: "ses" or "smtp" (default).
func New(ctx context.Context) (Sender, error) {
	from := os.Getenv("MAIL_FROM")
	if from == "" {
		from = "no-reply@lovia.tw"
	}
	if os.Getenv("MAIL_DRIVER") == "ses" {
		client, err := lib.AWSGetSESClient(ctx)
		if err != nil {
			return nil, err
		}
		log.Println("[Mailer] using SES")
		return awslib.NewSESSender(client, from), nil
	}
	log.Println("[Mailer] using SMTP")
	return &lib.SMTPSender{From: from, FromName: "Lovia"}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/email"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/events"
)

const sendAttempts = 3

var retryDelay = time.Second

// messageReader is the part of *kafka.Reader the worker uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	_ = godotenv.Load()
	logger := log.New(os.Stdout, "[email-worker] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Println("Email worker starting...")
	if err := consume(ctx, cfg, pickSender(cfg, logger), logger); err != nil {
		logger.Fatalf("consumer stopped: %v", err)
	}
}

func consume(ctx context.Context, cfg config.Config, sender email.Sender, logger *log.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.PaymentsTopic,
		GroupID:  cfg.Kafka.EmailGroup, // its own consumer group
		MinBytes: 1e3, MaxBytes: 10e6,
	})
	defer reader.Close()

	notifier := email.NewNotifier(sender, cfg.Email.DemoRecipient, logger)
	logger.Printf("consuming topic=%s group=%s", cfg.Kafka.PaymentsTopic, cfg.Kafka.EmailGroup)
	return run(ctx, reader, notifier, cfg.Notify.Timeout, logger)
}

// run commits each message only once it has been handled, so an email that
// could not be sent is redelivered to the group after a restart.
func run(ctx context.Context, reader messageReader, notifier *email.Notifier, timeout time.Duration, logger *log.Logger) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := handle(ctx, notifier, msg.Value, timeout, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("offset %d left uncommitted: %w", msg.Offset, err)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handle returns an error only when a notification could not be delivered.
// Malformed and unrelated events are dropped.
func handle(ctx context.Context, notifier *email.Notifier, value []byte, timeout time.Duration, logger *log.Logger) error {
	var payload events.OrderEvent
	evt, err := events.Decode(value, &payload)
	if err != nil {
		logger.Printf("bad event: %v; payload=%s", err, string(value))
		return nil
	}

	switch evt.EventType {
	case events.EventOrderPaymentConfirmed, events.EventOrderStatusChanged:
		return sendWithRetry(ctx, notifier, payload, timeout, logger)
	default:
		return nil
	}
}

func sendWithRetry(ctx context.Context, notifier *email.Notifier, payload events.OrderEvent, timeout time.Duration, logger *log.Logger) error {
	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err = notifier.SendOrderEmail(sendCtx, payload.Order(), payload.Status)
		cancel()
		if err == nil {
			return nil
		}
		logger.Printf("send failed order=%s attempt=%d/%d: %v", payload.OrderID, attempt, sendAttempts, err)
		if attempt == sendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryDelay):
		}
	}
	return err
}

func pickSender(cfg config.Config, logger *log.Logger) email.Sender {
	// Use SMTP if configured; else fallback to log
	if cfg.Email.SMTPHost != "" {
		return email.NewSMTPSender(cfg.Email)
	}
	return email.LogSender{Logger: logger}
}

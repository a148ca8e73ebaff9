package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	postgres "github.com/AnthonyGillesRudolfo/storefront-payments/internal/storage/postgres"
)

const (
	GatewayVNPay = "vnpay"
	GatewayMoMo  = "momo"
)

// ErrConfigMissing marks a gateway whose mandatory settings are absent.
var ErrConfigMissing = errors.New("config missing")

// Config aggregates runtime configuration grouped by concern. It is built
// once at startup and handed to constructors; nothing re-reads the env later.
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Store       StoreConfig
	Database    postgres.DatabaseConfig
	Kafka       KafkaConfig
	Email       EmailConfig
	Notify      NotifyConfig
	Redis       RedisConfig
	Restate     RestateConfig
	Frontend    FrontendConfig
	Authz       AuthzConfig
	Telemetry   TelemetryConfig
	Gateways    GatewaysConfig

	// Warnings lists optional features disabled for lack of configuration.
	Warnings []string
}

type HTTPConfig struct {
	Addr string
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string
}

type KafkaConfig struct {
	Brokers       []string
	PaymentsTopic string
	EmailGroup    string
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      string
	From          string
	DemoRecipient string
}

type NotifyConfig struct {
	// Mode is "kafka", "smtp" or "log".
	Mode    string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type RestateConfig struct {
	Enabled    bool
	ListenAddr string
	RuntimeURL string
}

type FrontendConfig struct {
	SuccessURL string
	FailureURL string
}

type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}

// AuthzConfig points at an OpenFGA store. Empty means allow everything.
type AuthzConfig struct {
	APIURL  string
	StoreID string
	// AllowActAs honours the act_as impersonation cookie. Development only.
	AllowActAs bool
}

type GatewaysConfig struct {
	Required []string
	VNPay    *VNPayConfig
	MoMo     *MoMoConfig
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PaymentURL string
	ReturnURL  string
	Version    string
	Locale     string
	OrderType  string
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	RequestType string
	Lang        string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg, err := loadBase()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.loadGateways(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadWorker is Load for processes that never talk to a payment gateway,
// such as the email worker.
func LoadWorker() (Config, error) {
	return loadBase()
}

func loadBase() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "storefront-payments"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":3000"),
		},
		Store: StoreConfig{
			Driver: getEnv("ORDER_STORE", "postgres"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", "payments.v1"),
			EmailGroup:    getEnv("KAFKA_EMAIL_GROUP_ID", "email-workers"),
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnv("SMTP_PORT", "1025"),
			From:          getEnv("SMTP_FROM", "no-reply@example.local"),
			DemoRecipient: getEnv("DEMO_TO_EMAIL", "test@example.local"),
		},
		Notify: NotifyConfig{
			Mode: getEnv("NOTIFY_MODE", "log"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Restate: RestateConfig{
			ListenAddr: getEnv("RESTATE_LISTEN_ADDR", ":9081"),
			RuntimeURL: getEnv("RESTATE_RUNTIME_URL", "http://127.0.0.1:8080"),
		},
		Frontend: FrontendConfig{
			SuccessURL: getEnv("FRONTEND_PAYMENT_SUCCESS_URL", "http://localhost:5173/payment/success"),
			FailureURL: getEnv("FRONTEND_PAYMENT_FAILURE_URL", "http://localhost:5173/payment/failure"),
		},
		Telemetry: TelemetryConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "http://localhost:4318/v1/traces"),
		},
		Authz: AuthzConfig{
			APIURL:  getEnv("OPENFGA_API_URL", ""),
			StoreID: getEnv("OPENFGA_STORE_ID", ""),
		},
	}

	portStr := getEnv("ORDER_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse ORDER_DB_PORT: %w", err)
	}
	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("ORDER_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("ORDER_DB_NAME", "storefront"),
		User:     getEnv("ORDER_DB_USER", "storefront"),
		Password: getEnv("ORDER_DB_PASSWORD", ""),
	}

	if cfg.Redis.DB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("parse REDIS_DB: %w", err)
	}
	if cfg.Redis.LockTTL, err = time.ParseDuration(getEnv("REDIS_LOCK_TTL", "10s")); err != nil {
		return Config{}, fmt.Errorf("parse REDIS_LOCK_TTL: %w", err)
	}
	if cfg.Notify.Timeout, err = time.ParseDuration(getEnv("NOTIFY_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("parse NOTIFY_TIMEOUT: %w", err)
	}
	if cfg.Restate.Enabled, err = strconv.ParseBool(getEnv("RESTATE_ENABLED", "false")); err != nil {
		return Config{}, fmt.Errorf("parse RESTATE_ENABLED: %w", err)
	}
	if cfg.Authz.AllowActAs, err = strconv.ParseBool(getEnv("AUTHZ_ALLOW_ACT_AS", "false")); err != nil {
		return Config{}, fmt.Errorf("parse AUTHZ_ALLOW_ACT_AS: %w", err)
	}
	if cfg.Telemetry.Enabled, err = strconv.ParseBool(getEnv("OTEL_ENABLED", "true")); err != nil {
		return Config{}, fmt.Errorf("parse OTEL_ENABLED: %w", err)
	}

	switch cfg.Store.Driver {
	case "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unknown ORDER_STORE %q", cfg.Store.Driver)
	}
	switch cfg.Notify.Mode {
	case "kafka", "smtp", "log":
	default:
		return Config{}, fmt.Errorf("unknown NOTIFY_MODE %q", cfg.Notify.Mode)
	}
	return cfg, nil
}

func (c *Config) loadGateways() error {
	c.Gateways.Required = splitAndTrim(strings.ToLower(getEnv("PAYMENT_REQUIRED_GATEWAYS", GatewayVNPay)))

	vnp := VNPayConfig{
		TmnCode:    getEnv("VNP_TMN_CODE", ""),
		HashSecret: getEnv("VNP_HASH_SECRET", ""),
		PaymentURL: getEnv("VNP_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		ReturnURL:  getEnv("VNP_RETURN_URL", ""),
		Version:    getEnv("VNP_VERSION", "2.1.0"),
		Locale:     getEnv("VNP_LOCALE", "vn"),
		OrderType:  getEnv("VNP_ORDER_TYPE", "other"),
	}
	missing := missingFields(map[string]string{
		"VNP_TMN_CODE":    vnp.TmnCode,
		"VNP_HASH_SECRET": vnp.HashSecret,
		"VNP_RETURN_URL":  vnp.ReturnURL,
	})
	if err := c.admit(GatewayVNPay, missing); err != nil {
		return err
	}
	if len(missing) == 0 {
		c.Gateways.VNPay = &vnp
	}

	momo := MoMoConfig{
		PartnerCode: getEnv("MOMO_PARTNER_CODE", ""),
		AccessKey:   getEnv("MOMO_ACCESS_KEY", ""),
		SecretKey:   getEnv("MOMO_SECRET_KEY", ""),
		Endpoint:    getEnv("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api/create"),
		RedirectURL: getEnv("MOMO_REDIRECT_URL", ""),
		IPNURL:      getEnv("MOMO_IPN_URL", ""),
		RequestType: getEnv("MOMO_REQUEST_TYPE", "captureWallet"),
		Lang:        getEnv("MOMO_LANG", "vi"),
	}
	missing = missingFields(map[string]string{
		"MOMO_PARTNER_CODE": momo.PartnerCode,
		"MOMO_ACCESS_KEY":   momo.AccessKey,
		"MOMO_SECRET_KEY":   momo.SecretKey,
		"MOMO_REDIRECT_URL": momo.RedirectURL,
		"MOMO_IPN_URL":      momo.IPNURL,
	})
	if err := c.admit(GatewayMoMo, missing); err != nil {
		return err
	}
	if len(missing) == 0 {
		c.Gateways.MoMo = &momo
	}
	return nil
}

// admit fails for a required gateway with missing settings and records a
// warning for an optional one.
func (c *Config) admit(gateway string, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	for _, r := range c.Gateways.Required {
		if r == gateway {
			return fmt.Errorf("%w: gateway %s requires %s", ErrConfigMissing, gateway, strings.Join(missing, ", "))
		}
	}
	c.Warnings = append(c.Warnings, fmt.Sprintf("gateway %s disabled: missing %s", gateway, strings.Join(missing, ", ")))
	return nil
}

func missingFields(fields map[string]string) []string {
	var out []string
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

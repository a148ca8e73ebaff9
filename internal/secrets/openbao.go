package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openbao/openbao/api/v2"
)

var ErrOpenBaoSecretNotFound = errors.New("openbao secret path not found")

// Config locates the KV v2 secret holding gateway credentials.
type Config struct {
	Addr      string
	Token     string
	Mount     string
	Path      string
	Namespace string
}

func (c Config) Enabled() bool {
	return c.Addr != "" && c.Token != "" && c.Path != ""
}

// ConfigFromEnv reads OPENBAO_* variables. They are read directly because
// they must be known before config.Load runs.
func ConfigFromEnv() Config {
	mount := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_MOUNT")), "/")
	if mount == "" {
		mount = "secret"
	}
	return Config{
		Addr:      strings.TrimRight(strings.TrimSpace(os.Getenv("OPENBAO_ADDR")), "/"),
		Token:     os.Getenv("OPENBAO_TOKEN"),
		Mount:     mount,
		Path:      strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/"),
		Namespace: strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
	}
}

// BootstrapFromOpenBao loads secrets (VNP_HASH_SECRET, MOMO_SECRET_KEY, ...)
// from OpenBao and exports them as environment variables ahead of
// config.Load. Without OpenBao configuration it is a no-op.
func BootstrapFromOpenBao(ctx context.Context) (int, error) {
	return Bootstrap(ctx, ConfigFromEnv())
}

// Bootstrap is BootstrapFromOpenBao with explicit configuration. It returns
// how many variables were exported.
func Bootstrap(ctx context.Context, cfg Config) (int, error) {
	if !cfg.Enabled() {
		return 0, nil
	}
	values, err := readSecrets(ctx, cfg)
	if err != nil {
		return 0, err
	}
	for k, v := range values {
		if err := os.Setenv(k, v); err != nil {
			return 0, fmt.Errorf("export %s: %w", k, err)
		}
	}
	return len(values), nil
}

func readSecrets(ctx context.Context, cfg Config) (map[string]string, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Addr
	apiCfg.Timeout = 5 * time.Second
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create OpenBao client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	secret, err := client.KVv2(cfg.Mount).Get(ctx, cfg.Path)
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, ErrOpenBaoSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read OpenBao secret %s/%s: %w", cfg.Mount, cfg.Path, err)
	}

	out := make(map[string]string, len(secret.Data))
	for k, v := range secret.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprint(val)
		default:
			// ignore unsupported types to avoid failing the entire bootstrap
		}
	}
	return out, nil
}

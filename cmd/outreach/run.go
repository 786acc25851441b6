package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knapabuse2-cmd/outreach/db"
	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/dialogue"
	"github.com/knapabuse2-cmd/outreach/internal/gateway"
	"github.com/knapabuse2-cmd/outreach/internal/locks"
	"github.com/knapabuse2-cmd/outreach/internal/logutil"
	"github.com/knapabuse2-cmd/outreach/internal/manager"
	"github.com/knapabuse2-cmd/outreach/internal/scenario"
	"github.com/knapabuse2-cmd/outreach/internal/sessionstore"
	"github.com/knapabuse2-cmd/outreach/internal/statepaths"
	"github.com/knapabuse2-cmd/outreach/internal/store"
	"github.com/knapabuse2-cmd/outreach/internal/worker"
	"github.com/knapabuse2-cmd/outreach/llm"
	openaiProvider "github.com/knapabuse2-cmd/outreach/providers/openai"
	uniaiProvider "github.com/knapabuse2-cmd/outreach/providers/uniai"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workers for every workable account",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.Setup()
			if err != nil {
				return err
			}

			runCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignals()

			dsn := strings.TrimSpace(flagOrViperString(cmd, "db-dsn", "database.dsn"))
			if dsn == "" {
				return fmt.Errorf("database.dsn is required")
			}
			gdb, err := db.Open(dbConfigFromViper(dsn))
			if err != nil {
				return err
			}
			st, err := store.New(store.Options{DB: gdb, Logger: logger})
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     flagOrViperString(cmd, "redis-addr", "redis.addr"),
				Password: viper.GetString("redis.password"),
				DB:       viper.GetInt("redis.db"),
			})
			defer func() { _ = rdb.Close() }()
			pingCtx, cancelPing := context.WithTimeout(runCtx, 5*time.Second)
			err = rdb.Ping(pingCtx).Err()
			cancelPing()
			if err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}

			lockSvc, err := locks.NewService(locks.ServiceOptions{Conn: rdb, Logger: logger})
			if err != nil {
				return err
			}

			sessions, err := sessionstore.New(statepaths.SessionsDir())
			if err != nil {
				return err
			}

			model := flagOrViperString(cmd, "llm-model", "llm.model")
			client, err := llmClientFromConfig(llmClientConfig{
				Provider:       viper.GetString("llm.provider"),
				Endpoint:       viper.GetString("llm.endpoint"),
				APIKey:         viper.GetString("llm.api_key"),
				Model:          model,
				RequestTimeout: viper.GetDuration("llm.request_timeout"),
			})
			if err != nil {
				return err
			}

			gatewayURL := flagOrViperString(cmd, "gateway-url", "gateway.base_url")

			mgr, err := manager.New(manager.Options{
				Store:              st,
				Locks:              lockSvc,
				NewWorker:          newWorkerFactory(logger, st, sessions, client, gatewayURL, model),
				Logger:             logger,
				DistributeInterval: viper.GetDuration("manager.distribute_interval"),
				HealthInterval:     viper.GetDuration("manager.health_interval"),
				ReclaimInterval:    viper.GetDuration("manager.reclaim_interval"),
				StaleAfter:         viper.GetDuration("manager.stale_after"),
				ShutdownTimeout:    viper.GetDuration("manager.shutdown_timeout"),
				LockTTL:            viper.GetDuration("manager.lock_ttl"),
			})
			if err != nil {
				return err
			}

			if err := mgr.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("db-dsn", "", "Postgres DSN (overrides database.dsn).")
	cmd.Flags().String("redis-addr", "", "Redis address (overrides redis.addr).")
	cmd.Flags().String("gateway-url", "", "Gateway base URL (overrides gateway.base_url).")
	cmd.Flags().String("llm-model", "", "Dialogue model (overrides llm.model).")

	return cmd
}

// newWorkerFactory builds one worker per account: the account's gateway
// session becomes the transport, the shared llm client the generator.
func newWorkerFactory(logger *slog.Logger, st *store.Store, sessions *sessionstore.Store, client llm.Client, gatewayURL, model string) manager.NewRunner {
	gatewayTimeout := viper.GetDuration("gateway.request_timeout")

	return func(account *models.Account) (manager.Runner, error) {
		sessionName := sessionNameFor(account)
		token, err := sessions.Load(sessionName)
		if err != nil {
			return nil, fmt.Errorf("account %s session: %w", account.Name, err)
		}

		gw := gateway.New(&http.Client{Timeout: gatewayTimeout}, gatewayURL, strings.TrimSpace(string(token)))
		transport := gateway.NewTransport(gw)

		newEngine := func(engineModel string, params map[string]any) (*dialogue.Engine, error) {
			return dialogue.NewEngine(dialogue.EngineOptions{
				Transport:  transport,
				LLM:        client,
				Store:      st,
				Model:      engineModel,
				Parameters: params,
				Logger:     logger,
			})
		}

		engine, err := newEngine(model, nil)
		if err != nil {
			return nil, err
		}

		w, err := worker.New(worker.Options{
			Account: account,
			Store:   st,
			Engine:  engine,
			NewEngine: func(sc *scenario.Scenario) (worker.Converser, error) {
				scModel := strings.TrimSpace(sc.Model)
				if scModel == "" {
					scModel = model
				}
				eng, err := newEngine(scModel, sc.Parameters)
				if err != nil {
					return nil, err
				}
				return eng, nil
			},
			OpenStream: func(ctx context.Context) (worker.Stream, error) {
				return gw.OpenStream(ctx)
			},
			Resolve: func(ctx context.Context, username string) (int64, error) {
				u, err := gw.ResolveUsername(ctx, username)
				if err != nil {
					return 0, err
				}
				return u.ID, nil
			},
			Logger:           logger,
			ClaimInterval:    viper.GetDuration("worker.claim_interval"),
			ClaimIntervalMax: viper.GetDuration("worker.claim_interval_max"),
			FollowUpDelay:    viper.GetDuration("worker.follow_up_delay"),
			ErrorBackoff:     viper.GetDuration("worker.error_backoff"),
			BatchWait:        viper.GetDuration("worker.batch_wait"),
			BatchMaxWait:     viper.GetDuration("worker.batch_max_wait"),
		})
		if err != nil {
			return nil, err
		}

		return &lockedRunner{inner: w, sessions: sessions, name: sessionName}, nil
	}
}

// lockedRunner holds the account's session file lock for the worker's
// whole run, so a second process cannot drive the same session.
type lockedRunner struct {
	inner    manager.Runner
	sessions *sessionstore.Store
	name     string
}

func (r *lockedRunner) AccountID() uuid.UUID { return r.inner.AccountID() }

func (r *lockedRunner) Run(ctx context.Context) error {
	return r.sessions.WithLock(ctx, r.name, func() error {
		return r.inner.Run(ctx)
	})
}

func sessionNameFor(account *models.Account) string {
	if name := strings.TrimSpace(account.SessionName); name != "" {
		return name
	}
	return sessionNameFromPhone(account.Phone)
}

// sessionNameFromPhone keeps only characters the session store accepts.
func sessionNameFromPhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type llmClientConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

func llmClientFromConfig(cfg llmClientConfig) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		c := openaiProvider.New(strings.TrimSpace(cfg.Endpoint), strings.TrimSpace(cfg.APIKey))
		if cfg.RequestTimeout > 0 {
			c.HTTP.Timeout = cfg.RequestTimeout
		}
		return c, nil
	case "openai_custom", "deepseek", "xai", "gemini", "anthropic":
		return uniaiProvider.New(uniaiProvider.Config{
			Provider:       strings.ToLower(strings.TrimSpace(cfg.Provider)),
			Endpoint:       strings.TrimSpace(cfg.Endpoint),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			RequestTimeout: cfg.RequestTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

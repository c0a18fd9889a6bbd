package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcrsapp/tcrs/internal/auth/rbac"
	"github.com/tcrsapp/tcrs/internal/auth/token"
	"github.com/tcrsapp/tcrs/internal/cli/common"
	"github.com/tcrsapp/tcrs/internal/db"
	"github.com/tcrsapp/tcrs/internal/objstore"
	httpserver "github.com/tcrsapp/tcrs/internal/server/http"
	"github.com/tcrsapp/tcrs/internal/telemetry"
	"github.com/tcrsapp/tcrs/internal/workflow/events"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("exit", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tcrs-server",
		Short: "Invoice approval service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default configs/server.yaml)")
	return cmd
}

func loadConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TCRS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("auth.secret", "")
	v.SetDefault("rbac.model", "configs/rbac_model.conf")
	v.SetDefault("rbac.policy", "configs/rbac_policy.csv")
	v.SetDefault("workflow.catalog", "")

	if cfgFile == "" {
		cfgFile = "configs/server.yaml"
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		// a missing config file is fine, env and defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, err
		}
	}
	common.MergeLogSection(v)
	return v, nil
}

func run(cfgFile string) error {
	v, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	common.SetupLoggerWithFile(
		v.GetString("log.level"), v.GetString("log.format"), v.GetString("log.file"),
		v.GetInt("log.max_size"), v.GetInt("log.max_backups"), v.GetInt("log.max_age"),
		v.GetBool("log.compress"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.SetupMeterProvider(ctx, "tcrs-server")
	if err != nil {
		return err
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(c)
	}()
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	gdb, err := db.Open(v.GetString("db.dsn"))
	if err != nil {
		return err
	}

	// rbac: casbin files when present, otherwise built-in role grants
	authz, err := buildAuthz(v)
	if err != nil {
		return err
	}

	secret := v.GetString("auth.secret")
	if secret == "" {
		secret = os.Getenv("TCRS_AUTH_SECRET")
	}
	if secret == "" {
		slog.Warn("auth.secret not set, using an ephemeral secret; tokens will not survive restarts")
		secret = time.Now().Format(time.RFC3339Nano)
	}
	tokens := token.NewManager(secret)

	var rdb *redis.Client
	if u := os.Getenv("REDIS_URL"); u != "" {
		opt, err := redis.ParseURL(u)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	evq, err := events.NewFromEnv(rdb)
	if err != nil {
		return err
	}
	defer evq.Close()

	var store objstore.Store
	storeCfg := objstore.FromEnv()
	if err := objstore.Validate(storeCfg); err != nil {
		slog.Warn("object storage disabled", "err", err)
	} else if store, err = objstore.Open(ctx, storeCfg); err != nil {
		slog.Warn("object storage disabled", "driver", storeCfg.Driver, "err", err)
		store = nil
	}

	srv, err := httpserver.NewServer(httpserver.Config{
		DB:              gdb,
		Authz:           authz,
		Tokens:          tokens,
		Store:           store,
		Events:          evq,
		Redis:           rdb,
		Metrics:         metrics,
		StepCatalogPath: v.GetString("workflow.catalog"),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(v.GetString("server.addr")) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("server.shutdown_timeout"))
	defer cancel()
	return srv.Shutdown(sctx)
}

func buildAuthz(v *viper.Viper) (rbac.Authorizer, error) {
	model := v.GetString("rbac.model")
	policy := v.GetString("rbac.policy")
	if fileExists(model) && fileExists(policy) {
		cp, err := rbac.NewCasbinPolicy(model, policy)
		if err != nil {
			return nil, err
		}
		if stopWatch, err := rbac.WatchPolicy(cp, policy); err != nil {
			slog.Warn("rbac hot reload unavailable", "err", err)
		} else {
			_ = stopWatch // runs for the process lifetime
		}
		return cp, nil
	}
	slog.Warn("casbin files missing, using built-in role grants", "model", model, "policy", policy)
	p := rbac.NewPolicy()
	p.Grant("role:admin", "*")
	p.Grant("role:approver", "requests:read")
	p.Grant("role:approver", "requests:approve")
	p.Grant("role:approver", "dict:read")
	p.Grant("role:requester", "requests:read")
	p.Grant("role:requester", "requests:create")
	p.Grant("role:requester", "files:upload")
	p.Grant("role:requester", "dict:read")
	return p, nil
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tourdesk/pkg/audit"
	"github.com/platinummonkey/tourdesk/pkg/auth"
	"github.com/platinummonkey/tourdesk/pkg/config"
	"github.com/platinummonkey/tourdesk/pkg/observability"
	"github.com/platinummonkey/tourdesk/pkg/rbac"
	storage "github.com/platinummonkey/tourdesk/pkg/storage/postgres"
)

// Database is an open RBAC database
type Database struct {
	DB      *sql.DB
	Dialect rbac.Dialect
	Close   func() error
}

// Opener connects to the RBAC database
type Opener func(ctx context.Context, logger *observability.Logger) (*Database, error)

// Options configure the root command
type Options struct {
	// Open overrides the connection built from --driver/--dsn
	Open Opener
	// Actor overrides the operator principal derived from the OS user
	Actor string
}

type app struct {
	opts     Options
	driver   string
	dsn      string
	redisURL string
	logLevel string
}

// NewRootCommand creates the tourdesk-admin root command
func NewRootCommand(opts Options) *cobra.Command {
	a := &app{opts: opts}
	dbCfg := config.LoadDatabaseConfig()

	root := &cobra.Command{
		Use:   "tourdesk-admin",
		Short: "tourdesk-admin manages roles and permissions of the tour management service",
		Long: `tourdesk-admin talks to the RBAC database directly, as the operator
principal cli:<os user>. It runs migrations, provisions the permission
catalog and grants the first super_admin.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.driver, "driver", dbCfg.Driver, "Database driver (postgres or sqlite3)")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", dbCfg.DSN, "Database DSN (defaults to TOURDESK_DB_DSN)")
	root.PersistentFlags().StringVar(&a.redisURL, "redis-url", config.LoadRedisConfig().URL,
		"Redis URL of the server's shared permission cache (defaults to TOURDESK_REDIS_URL)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		a.newMigrateCommand(),
		a.newSeedCommand(),
		a.newRolesCommand(),
		a.newAssignCommand(),
		a.newRevokeCommand(),
		a.newCheckCommand(),
		a.newAuditCommand(),
	)
	return root
}

// Execute runs the root command with default options
func Execute(ctx context.Context) error {
	return NewRootCommand(Options{}).ExecuteContext(ctx)
}

// session is what a command body gets: an open manager and the acting operator
type session struct {
	db      *Database
	manager *rbac.Manager
	actor   string
	logger  *observability.Logger
}

// run opens the database around fn so commands that only print help never connect
func (a *app) run(fn func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger := observability.NewLogger(observability.ParseLogLevel(a.logLevel), cmd.ErrOrStderr()).
			WithField("component", "tourdesk-admin")

		open := a.opts.Open
		if open == nil {
			open = a.openFromFlags
		}
		db, err := open(ctx, logger)
		if err != nil {
			return err
		}
		defer func() {
			if db.Close != nil {
				if cerr := db.Close(); cerr != nil {
					logger.WithError(cerr).Warn("failed to close database")
				}
			}
		}()

		rbacConfig := rbac.Config{
			Dialect:     db.Dialect,
			Logger:      logger,
			AuditLogger: audit.NewStructuredLogger(logger),
		}
		// changes must evict what the servers cached for the affected principals
		if a.redisURL != "" {
			redisClient, err := a.connectRedis()
			if err != nil {
				return err
			}
			defer redisClient.Close()
			rbacConfig.Redis = redisClient
			rbacConfig.CacheTTL = config.LoadRBACConfig().CacheTTL
		}

		manager, err := rbac.NewManager(db.DB, rbacConfig)
		if err != nil {
			return err
		}

		return fn(ctx, cmd, &session{db: db, manager: manager, actor: a.actor(), logger: logger}, args)
	}
}

func (a *app) openFromFlags(ctx context.Context, logger *observability.Logger) (*Database, error) {
	if a.dsn == "" {
		return nil, fmt.Errorf("database DSN is required (--dsn or TOURDESK_DB_DSN)")
	}
	dialect, err := rbac.DialectFor(a.driver)
	if err != nil {
		return nil, err
	}

	dbCfg := config.LoadDatabaseConfig()
	cm, err := storage.NewConnectionManager(storage.ConnectionConfig{
		Driver:      a.driver,
		PrimaryURL:  a.dsn,
		MaxConns:    2,
		MinConns:    1,
		Timeout:     dbCfg.Timeout,
		MaxLifetime: dbCfg.MaxLifetime,
		MaxIdleTime: dbCfg.MaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Database{DB: cm.Primary(), Dialect: dialect, Close: cm.Close}, nil
}

func (a *app) connectRedis() (*storage.RedisClient, error) {
	redisCfg := config.LoadRedisConfig()
	client, err := storage.NewRedisClient(storage.RedisConfig{
		URL:        a.redisURL,
		Password:   redisCfg.Password,
		DB:         redisCfg.DB,
		MaxRetries: redisCfg.MaxRetries,
		PoolSize:   2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to permission cache: %w", err)
	}
	return client, nil
}

func (a *app) actor() string {
	if a.opts.Actor != "" {
		return a.opts.Actor
	}
	var name string
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return auth.OperatorPrincipal(name)
}

func scopeFlag(tour string) *string {
	if tour == "" {
		return nil
	}
	return &tour
}

func scopeLabel(scope *string) string {
	if scope == nil {
		return "global"
	}
	return "tour " + *scope
}

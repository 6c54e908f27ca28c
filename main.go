package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"incidentdesk/internal/api"
	"incidentdesk/internal/auth"
	"incidentdesk/internal/config"
	"incidentdesk/internal/directory"
	"incidentdesk/internal/logging"
	"incidentdesk/internal/models"
	"incidentdesk/internal/poller"
	"incidentdesk/internal/redis"
	"incidentdesk/internal/service/conversation"
	"incidentdesk/internal/storage"
	"incidentdesk/internal/timeline"
)

const version = "0.1.0"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "incidentdesk",
		Usage:   "Back-office messaging between admins, operators and technicians",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"INCIDENTDESK_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			seedCommand(),
			tokenCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type deps struct {
	cfg *config.Config
	log zerolog.Logger
	db  *sql.DB
	rdb *redis.Client
}

func (r *deps) Close() {
	if r.rdb != nil {
		r.rdb.Close()
	}
	if r.db != nil {
		r.db.Close()
	}
}

func loadConfig(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr), nil
}

// openDeps loads configuration, opens and migrates the database and, when
// enabled, connects to redis.
func openDeps(c *cli.Context, withRedis bool) (*deps, error) {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	rt := &deps{cfg: cfg, log: log}

	driver := cfg.Database.Driver
	log.Info().Str("driver", driver).Msg("opening database")
	rt.db, err = storage.Open(driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(rt.db, driver); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if withRedis && cfg.Redis.Enabled {
		rt.rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("create redis client: %w", err)
		}
	}
	return rt, nil
}

func (r *deps) directory() (directory.Directory, *directory.CachedDirectory) {
	base := directory.NewSQLDirectory(r.db)
	if r.rdb == nil {
		return base, nil
	}
	ttl := time.Duration(r.cfg.Redis.DirectoryTTLSeconds) * time.Second
	cached := directory.NewCachedDirectory(base, r.rdb, ttl, r.log)
	return cached, cached
}

func (r *deps) authService() (*auth.Service, error) {
	var store auth.RevocationStore
	if r.rdb != nil {
		store = auth.NewRedisRevocations(r.rdb)
	}
	return auth.NewService(r.cfg.Auth.JWTSecret, time.Duration(r.cfg.Auth.TokenTTLMinutes)*time.Minute, store)
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(c *cli.Context) error {
			rt, err := openDeps(c, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			loc, err := location(rt.cfg.Timezone)
			if err != nil {
				return err
			}
			authService, err := rt.authService()
			if err != nil {
				return err
			}
			dir, _ := rt.directory()
			conv := conversation.NewService(rt.db, dir,
				conversation.WithTxOptions(storage.TxOptions(rt.cfg.Database.Driver)),
				conversation.WithLogger(rt.log.With().Str("component", "conversation").Logger()),
			)
			opts := api.Options{
				Location:      loc,
				SendPerSecond: rt.cfg.RateLimit.SendPerSecond,
				SendBurst:     rt.cfg.RateLimit.SendBurst,
				Logger:        rt.log,
			}
			if rt.rdb != nil {
				opts.Cache = rt.rdb
			}
			handlers := api.NewHandler(conv, authService, rt.db, opts)

			if rt.log.GetLevel() > zerolog.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery(), logging.RequestLogger(rt.log))
			handlers.RegisterRoutes(router)

			srv := &http.Server{
				Addr:              rt.cfg.Server.Address,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				rt.log.Info().Str("addr", srv.Addr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server stopped: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			rt.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the database tables",
		Action: func(c *cli.Context) error {
			rt, err := openDeps(c, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.log.Info().Str("driver", rt.cfg.Database.Driver).Msg("schema up to date")
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Load admins, operators and technicians from a JSON file",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("seed expects exactly one JSON file", 2)
			}
			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var participants []models.Participant
			if err := json.Unmarshal(raw, &participants); err != nil {
				return fmt.Errorf("decode seed file: %w", err)
			}

			rt, err := openDeps(c, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			store := directory.NewSQLDirectory(rt.db)
			_, cached := rt.directory()
			for i := range participants {
				p := &participants[i]
				if err := store.Upsert(c.Context, p); err != nil {
					return fmt.Errorf("seed %s: %w", p.Ref(), err)
				}
				if cached != nil {
					if err := cached.Invalidate(c.Context, p.Ref()); err != nil {
						rt.log.Warn().Err(err).Stringer("participant", p.Ref()).Msg("cache invalidation failed")
					}
				}
			}
			rt.log.Info().Int("count", len(participants)).Msg("participants seeded")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Mint a bearer token for a participant (development helper)",
		ArgsUsage: "ROLE ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("token expects ROLE and ID", 2)
			}
			role, err := models.ParseRole(c.Args().Get(0))
			if err != nil {
				return err
			}
			var id int64
			if _, err := fmt.Sscan(c.Args().Get(1), &id); err != nil || id <= 0 {
				return cli.Exit("ID must be a positive integer", 2)
			}
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute, nil)
			if err != nil {
				return err
			}
			token, err := svc.IssueToken(models.Ref{Role: role, ID: id})
			if err != nil {
				return err
			}
			log.Info().Stringer("participant", models.Ref{Role: role, ID: id}).Dur("ttl", svc.TokenTTL()).Msg("token issued")
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll a discussion and print new messages grouped by day",
		ArgsUsage: "DISCUSSION_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8090", Usage: "API base `URL`"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"INCIDENTDESK_TOKEN"}, Usage: "bearer `TOKEN`", Required: true},
			&cli.BoolFlag{Name: "operator", Usage: "use the operator routes (marks messages read)"},
		},
		Action: func(c *cli.Context) error {
			var id int64
			if _, err := fmt.Sscan(c.Args().First(), &id); err != nil || id <= 0 {
				return cli.Exit("watch expects a discussion id", 2)
			}
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			loc, err := location(cfg.Timezone)
			if err != nil {
				return err
			}

			path := "/api/admins/discussions/%d/messages"
			if c.Bool("operator") {
				path = "/api/operators/op/discussions/%d/messages"
			}
			fetcher := poller.NewHTTPFetcher(c.String("url"), c.String("token"), path)
			p := poller.New(fetcher, time.Duration(cfg.Poll.IntervalSeconds)*time.Second, log)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return p.Watch(ctx, id, func(batch []models.ThreadMessage) {
				for _, day := range timeline.GroupByDay(batch, time.Now(), loc) {
					fmt.Fprintf(c.App.Writer, "── %s ──\n", day.Label)
					for _, m := range day.Messages {
						name := string(m.SenderType)
						if m.Sender != nil && strings.TrimSpace(m.Sender.Name) != "" {
							name = m.Sender.Name
						}
						fmt.Fprintf(c.App.Writer, "[%s] %s: %s (%s)\n", m.CreatedAt.In(loc).Format("15:04"), name, m.Content, m.Status)
					}
				}
			})
		},
	}
}

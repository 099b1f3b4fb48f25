// Command sessionctl manages sessions from the command line. Settings are
// read from flags, SESSIONCTL_* environment variables and a .env file.
//
//	sessionctl create <username>
//	sessionctl get <token>
//	sessionctl list <username>
//	sessionctl revoke <username>
//	sessionctl delete <token>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/jacentio/singletable/internal/breaker"
	"github.com/jacentio/singletable/session"
	"github.com/jacentio/singletable/store"
)

type settings struct {
	Table    string        `conf:"default:sessions,flag:table"`
	Region   string        `conf:"flag:region"`
	Endpoint string        `conf:"flag:endpoint,help:override the DynamoDB endpoint (DynamoDB Local)"`
	Lifetime time.Duration `conf:"default:168h,flag:lifetime"`
	Timeout  time.Duration `conf:"default:10s"`
	Verbose  bool          `conf:"short:v"`
	Args     conf.Args
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg settings
	_ = godotenv.Load()
	help, err := conf.Parse("SESSIONCTL", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return err
	}
	if len(cfg.Args) != 2 {
		return errors.New("usage: sessionctl <create|get|list|revoke|delete> <username|token>")
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	mgr, err := newManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return dispatch(ctx, mgr, cfg.Args.Num(0), cfg.Args.Num(1))
}

func newManager(ctx context.Context, cfg settings, logger *slog.Logger) (*session.Manager, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	guarded := breaker.New(client, breaker.DefaultConfig(cfg.Table), logger)
	s := store.New(guarded, session.StoreConfig(cfg.Table), store.WithLogger(logger))
	return session.New(s, session.WithLifetime(cfg.Lifetime)), nil
}

func dispatch(ctx context.Context, mgr *session.Manager, cmd, arg string) error {
	switch cmd {
	case "create":
		sess, err := mgr.Create(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Println(sess.Token)
		return nil

	case "get":
		sess, err := mgr.Get(ctx, arg)
		if err != nil {
			return err
		}
		return printSessions([]session.Session{*sess})

	case "list":
		sessions, err := mgr.ListByUser(ctx, arg)
		if err != nil {
			return err
		}
		return printSessions(sessions)

	case "revoke":
		n, err := mgr.RevokeAll(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Printf("revoked %d sessions\n", n)
		return nil

	case "delete":
		return mgr.Delete(ctx, arg)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printSessions(sessions []session.Session) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tUSERNAME\tCREATED\tEXPIRES")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Token, s.Username,
			s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/park285/showdown-cli/internal/archive"
	"github.com/park285/showdown-cli/internal/config"
	"github.com/park285/showdown-cli/internal/obslog"
	"github.com/park285/showdown-cli/internal/session"
	"github.com/park285/showdown-cli/pkg/showdowndto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_ = json.NewEncoder(os.Stdout).Encode(showdowndto.Failure{Error: err.Error()})
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := obslog.InitFromEnv(); err != nil {
		return err
	}
	defer func() { _ = obslog.L().Sync() }()

	if len(args) < 1 {
		return fmt.Errorf("%w: usage: showdown-cli <start|poll|choose> [flags]", config.ErrConfig)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "start":
		return runStart(cfg, args[1:])
	case "poll":
		return runPoll(cfg, args[1:])
	case "choose":
		return runChoose(cfg, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", config.ErrConfig, args[0])
	}
}

// newFlagSet registers the flags every subcommand shares, writing straight
// into the loaded configuration so flags win over env and file values.
func newFlagSet(name string, cfg *config.AppConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.WebsocketURI, "websocket-uri", cfg.WebsocketURI, "simulator websocket uri, e.g. wss://sim3.psim.us/showdown/websocket")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "account name")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "account password; empty selects the guest login flow")
	fs.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "path of the persisted session state file")
	return fs
}

func runStart(cfg *config.AppConfig, args []string) error {
	fs := newFlagSet("start", cfg)
	format := fs.String("format", "", "battle format to search, e.g. gen9randombattle")
	team := fs.String("team", "", "packed team; empty searches without one")
	timeoutS := fs.Int("timeout", 60, "seconds to wait for the battle to start")
	requestTimeoutS := fs.Int("request-timeout", 30, "seconds to wait for the first request after battle start")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	o, done, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer done()

	res, err := o.Start(context.Background(), session.StartParams{
		Format:         *format,
		Team:           *team,
		StartTimeout:   time.Duration(*timeoutS) * time.Second,
		RequestTimeout: time.Duration(*requestTimeoutS) * time.Second,
	})
	if err != nil {
		return err
	}
	return emit(res)
}

func runPoll(cfg *config.AppConfig, args []string) error {
	fs := newFlagSet("poll", cfg)
	battleID := fs.String("battle-id", "", "battle room; empty falls back to the persisted state")
	timeoutS := fs.Int("timeout", 30, "seconds to wait for a request")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	o, done, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer done()

	res, err := o.Observe(context.Background(), session.ObserveParams{
		BattleID: *battleID,
		Timeout:  time.Duration(*timeoutS) * time.Second,
	})
	if err != nil {
		return err
	}
	return emit(res)
}

func runChoose(cfg *config.AppConfig, args []string) error {
	fs := newFlagSet("choose", cfg)
	battleID := fs.String("battle-id", "", "battle room; empty falls back to the persisted state")
	choice := fs.String("choice", "", "choice text, e.g. 'move 1', 'switch 2', 'move 1 terastallize'")
	rqid := fs.Int("rqid", 0, "request id to correlate the choice to; omitted polls for it")
	noRefresh := fs.Bool("no-refresh", false, "skip polling for the latest request before sending")
	timeoutS := fs.Int("timeout", 15, "seconds for the pre-send request poll")
	postTimeoutS := fs.Int("post-timeout", 30, "seconds to observe the consequence of the choice")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	o, done, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer done()

	params := session.ActParams{
		BattleID:    *battleID,
		Choice:      *choice,
		NoRefresh:   *noRefresh,
		Timeout:     time.Duration(*timeoutS) * time.Second,
		PostTimeout: time.Duration(*postTimeoutS) * time.Second,
	}
	if fs.Changed("rqid") {
		v := *rqid
		params.RQID = &v
	}

	res, err := o.Act(context.Background(), params)
	if err != nil {
		return err
	}
	return emit(res)
}

// buildOrchestrator wires the state store, resolves identity fallbacks
// from persisted state, and attaches the optional battle archive. The
// returned func releases whatever was opened.
func buildOrchestrator(cfg *config.AppConfig) (*session.Orchestrator, func(), error) {
	var (
		store    session.Store
		stateRef string
		cleanup  []func()
	)
	done := func() {
		for _, f := range cleanup {
			f()
		}
	}

	if cfg.StateRedisURL != "" {
		rs, err := session.NewRedisStore(cfg.StateRedisURL, cfg.StateRedisKey)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { _ = rs.Close() })
		store, stateRef = rs, rs.Key()
	} else {
		fileStore := session.NewFileStore(cfg.StatePath)
		store, stateRef = fileStore, fileStore.Path()
	}

	state, err := store.Load(context.Background())
	if err != nil {
		done()
		return nil, nil, err
	}
	cfg.ResolveFromState(state)
	if err := cfg.Validate(); err != nil {
		done()
		return nil, nil, err
	}

	opts := []session.Option{
		session.WithLogger(obslog.L()),
		session.WithStateRef(stateRef),
	}
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Warn("battle_archive_unavailable", zap.Error(err))
		} else {
			cleanup = append(cleanup, func() { _ = repo.Close() })
			opts = append(opts, session.WithArchive(repo))
		}
	}

	return session.New(cfg, store, opts...), done, nil
}

func emit(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

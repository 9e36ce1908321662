package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/showdown-cli/internal/archive"
	"github.com/park285/showdown-cli/internal/config"
	"github.com/park285/showdown-cli/internal/protocol"
	"github.com/park285/showdown-cli/internal/psclient"
	"github.com/park285/showdown-cli/pkg/showdowndto"
)

// Dialer opens the transport connection for one operation.
type Dialer func(ctx context.Context, uri string) (psclient.Transport, error)

// Orchestrator runs the three public operations. Each one opens a fresh
// connection, performs one bounded interaction, merges the outcome into
// the persisted session blob and closes the connection on every exit
// path.
type Orchestrator struct {
	cfg   *config.AppConfig
	store Store
	dial  Dialer
	auth  psclient.Authenticator
	arch  archive.Recorder
	log   *zap.Logger

	settle   time.Duration
	stateRef string
}

type Option func(*Orchestrator)

func WithDialer(d Dialer) Option {
	return func(o *Orchestrator) { o.dial = d }
}

func WithAuthenticator(a psclient.Authenticator) Option {
	return func(o *Orchestrator) { o.auth = a }
}

func WithArchive(r archive.Recorder) Option {
	return func(o *Orchestrator) { o.arch = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithSettleDelay overrides the pause after the /trn rename.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

// WithStateRef sets the state location echoed back in results (a file
// path or a redis key).
func WithStateRef(ref string) Option {
	return func(o *Orchestrator) { o.stateRef = ref }
}

func New(cfg *config.AppConfig, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		store:  store,
		log:    zap.NewNop(),
		settle: time.Second,
	}
	o.dial = func(ctx context.Context, uri string) (psclient.Transport, error) {
		return psclient.Dial(ctx, uri)
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.auth == nil {
		var lopts []psclient.LoginOption
		if cfg.LoginURL != "" {
			lopts = append(lopts, psclient.WithLoginURL(cfg.LoginURL))
		}
		o.auth = psclient.NewLoginClient(cfg.Username, cfg.Password, lopts...)
	}
	return o
}

type StartParams struct {
	Format         string
	Team           string // packed team; empty searches without one
	StartTimeout   time.Duration
	RequestTimeout time.Duration
}

// Start logs in, queues for a ladder battle and waits for the first
// action request of the new room.
func (o *Orchestrator) Start(ctx context.Context, p StartParams) (*showdowndto.StartResult, error) {
	if strings.TrimSpace(p.Format) == "" {
		return nil, fmt.Errorf("%w: battle format is required", config.ErrConfig)
	}

	conn, err := o.dial(ctx, o.cfg.WebsocketURI)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	userID, err := psclient.Login(ctx, conn, o.auth, o.cfg.Username, o.settle)
	if err != nil {
		return nil, err
	}
	o.log.Info("logged_in", zap.String("user", userID))

	team := strings.TrimSpace(p.Team)
	if team == "" {
		team = "None"
	}
	if err := conn.Send(ctx, "", "/utm "+team); err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, "", "/search "+p.Format); err != nil {
		return nil, err
	}

	init, err := psclient.WaitForBattleStart(ctx, conn, p.StartTimeout)
	if err != nil {
		return nil, err
	}
	o.log.Info("battle_started",
		zap.String("battle_id", init.BattleID),
		zap.String("title", init.Title))

	if err := conn.Send(ctx, init.BattleID, "/timer on"); err != nil {
		return nil, err
	}

	rw, err := psclient.WaitForRequest(ctx, conn, init.BattleID, p.RequestTimeout)
	if err != nil {
		return nil, err
	}

	sessionUUID := uuid.NewString()
	rqid := rqidOf(rw.Request)
	if err := o.store.Merge(ctx, map[string]any{
		"websocket_uri": o.cfg.WebsocketURI,
		"ps_username":   o.cfg.Username,
		"ps_password":   o.cfg.Password,
		"battle_id":     init.BattleID,
		"session_uuid":  sessionUUID,
		"format":        p.Format,
		"rqid":          rqid,
		"turn":          rw.Turn,
		"request":       rw.Request,
		"updated_at":    time.Now().Unix(),
	}); err != nil {
		return nil, err
	}

	return &showdowndto.StartResult{
		BattleID:    init.BattleID,
		Title:       init.Title,
		Turn:        rw.Turn,
		RQID:        rqid,
		Error:       rw.LastError,
		Request:     requestPayload(rw.Request),
		Options:     toOptionsDTO(protocol.DeriveOptions(rw.Request)),
		SessionUUID: sessionUUID,
		StateRef:    o.stateRef,
	}, nil
}

type ObserveParams struct {
	BattleID string // empty falls back to the persisted battle
	Timeout  time.Duration
}

// Observe joins a battle room and returns its latest action request, or
// whatever partial state arrived before the deadline.
func (o *Orchestrator) Observe(ctx context.Context, p ObserveParams) (*showdowndto.ObserveResult, error) {
	battleID, err := o.resolveBattleID(ctx, p.BattleID)
	if err != nil {
		return nil, err
	}

	conn, err := o.dial(ctx, o.cfg.WebsocketURI)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := psclient.Login(ctx, conn, o.auth, o.cfg.Username, o.settle); err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, "", "/join "+battleID); err != nil {
		return nil, err
	}

	rw, err := psclient.WaitForRequest(ctx, conn, battleID, p.Timeout)
	if err != nil {
		return nil, err
	}

	rqid := rqidOf(rw.Request)
	if err := o.store.Merge(ctx, map[string]any{
		"websocket_uri": o.cfg.WebsocketURI,
		"ps_username":   o.cfg.Username,
		"ps_password":   o.cfg.Password,
		"battle_id":     battleID,
		"rqid":          rqid,
		"turn":          rw.Turn,
		"request":       rw.Request,
		"updated_at":    time.Now().Unix(),
	}); err != nil {
		return nil, err
	}

	return &showdowndto.ObserveResult{
		BattleID: battleID,
		Turn:     rw.Turn,
		RQID:     rqid,
		Error:    rw.LastError,
		Request:  requestPayload(rw.Request),
		Options:  toOptionsDTO(protocol.DeriveOptions(rw.Request)),
		StateRef: o.stateRef,
	}, nil
}

type ActParams struct {
	BattleID    string
	Choice      string
	RQID        *int
	NoRefresh   bool // skip the pre-send request poll
	Timeout     time.Duration
	PostTimeout time.Duration
}

// Act submits a choice correlated to a request id and observes the
// consequence until the next request or the end of the battle.
func (o *Orchestrator) Act(ctx context.Context, p ActParams) (*showdowndto.ActResult, error) {
	choice := strings.TrimSpace(p.Choice)
	if choice == "" {
		return nil, fmt.Errorf("%w: choice text is required", config.ErrConfig)
	}
	payload := choice
	if !strings.HasPrefix(choice, "/choose ") {
		payload = "/choose " + choice
	}

	battleID, err := o.resolveBattleID(ctx, p.BattleID)
	if err != nil {
		return nil, err
	}

	conn, err := o.dial(ctx, o.cfg.WebsocketURI)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := psclient.Login(ctx, conn, o.auth, o.cfg.Username, o.settle); err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, "", "/join "+battleID); err != nil {
		return nil, err
	}

	rqid := p.RQID
	var refreshed psclient.RequestWait
	if !p.NoRefresh {
		refreshed, err = psclient.WaitForRequest(ctx, conn, battleID, p.Timeout)
		if err != nil {
			return nil, err
		}
		if refreshed.Request != nil && refreshed.Request.RQID != nil {
			rqid = refreshed.Request.RQID
		}
	} else if rqid == nil {
		state, err := o.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if n, ok := stateInt(state, "rqid"); ok {
			rqid = &n
		}
	}
	if rqid == nil {
		if p.NoRefresh {
			return nil, fmt.Errorf("%w: rqid is required when refresh polling is disabled", config.ErrConfig)
		}
		return nil, fmt.Errorf("%w: no request id observed before the deadline", psclient.ErrTimeout)
	}

	if err := conn.Send(ctx, battleID, payload, strconv.Itoa(*rqid)); err != nil {
		return nil, err
	}
	o.log.Info("choice_submitted",
		zap.String("battle_id", battleID),
		zap.String("choice", payload),
		zap.Int("rqid", *rqid))

	ew, err := psclient.WaitForRequestWithEvents(ctx, conn, battleID, p.PostTimeout)
	if err != nil {
		return nil, err
	}

	mergedRqid := rqidOf(ew.Request)
	if mergedRqid == nil {
		mergedRqid = rqid
	}
	mergedTurn := ew.Turn
	if mergedTurn == nil {
		mergedTurn = refreshed.Turn
	}
	mergedRequest := ew.Request
	if mergedRequest == nil {
		mergedRequest = refreshed.Request
	}
	var winnerVal any
	if ew.Winner != "" {
		winnerVal = ew.Winner
	}

	if err := o.store.Merge(ctx, map[string]any{
		"websocket_uri": o.cfg.WebsocketURI,
		"ps_username":   o.cfg.Username,
		"ps_password":   o.cfg.Password,
		"battle_id":     battleID,
		"rqid":          mergedRqid,
		"turn":          mergedTurn,
		"request":       mergedRequest,
		"finished":      ew.Finished,
		"winner":        winnerVal,
		"tie":           ew.Tie,
		"updated_at":    time.Now().Unix(),
	}); err != nil {
		return nil, err
	}

	if ew.Finished {
		o.archiveResult(ctx, battleID, ew, mergedTurn)
	}

	errText := ew.LastError
	if errText == "" {
		errText = refreshed.LastError
	}
	var winner *string
	if ew.Winner != "" {
		w := ew.Winner
		winner = &w
	}

	return &showdowndto.ActResult{
		BattleID: battleID,
		Sent:     payload,
		RQID:     *rqid,
		Turn:     ew.Turn,
		Error:    errText,
		Request:  requestPayload(ew.Request),
		Options:  toOptionsDTO(protocol.DeriveOptions(ew.Request)),
		Events:   ew.Events,
		Finished: ew.Finished,
		Winner:   winner,
		Tie:      ew.Tie,
		StateRef: o.stateRef,
	}, nil
}

func (o *Orchestrator) resolveBattleID(ctx context.Context, explicit string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	state, err := o.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if v := stateString(state, "battle_id"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: battle id is required (flag or state)", config.ErrConfig)
}

// archiveResult records a finished battle. Best-effort: failures are
// logged and do not fail the operation.
func (o *Orchestrator) archiveResult(ctx context.Context, battleID string, ew psclient.EventWait, turn *int) {
	if o.arch == nil {
		return
	}
	state, _ := o.store.Load(ctx)
	rec := &archive.Record{
		SessionUUID: stateString(state, "session_uuid"),
		BattleID:    battleID,
		Username:    o.cfg.Username,
		Format:      stateString(state, "format"),
		Winner:      ew.Winner,
		Tie:         ew.Tie,
		FinishedAt:  time.Now(),
	}
	if turn != nil {
		rec.Turn = *turn
	}
	if rec.SessionUUID == "" {
		rec.SessionUUID = uuid.NewString()
	}
	if _, err := o.arch.InsertBattle(ctx, rec); err != nil && !errors.Is(err, archive.ErrDuplicateBattle) {
		o.log.Warn("battle_archive_failed",
			zap.String("battle_id", battleID),
			zap.Error(err))
	}
}

func stateString(state map[string]any, key string) string {
	if v, ok := state[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// stateInt reads a JSON number out of the decoded blob, where numbers
// arrive as float64.
func stateInt(state map[string]any, key string) (int, bool) {
	switch v := state[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

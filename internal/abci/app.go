// Package abci contains the ABCI application that connects the report
// ledger to the Tendermint consensus engine. Tendermint orders and delivers
// signed calls; this package verifies signatures (CheckTx, DeliverTx), maps
// the signer to the ledger caller, stamps the block time as the
// ledger-observed clock, and forwards emitted events to the side channel.
package abci

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/crypto/tmhash"

	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

const (
	CodeTypeOK               uint32 = 0
	CodeTypeEncodingError    uint32 = 1
	CodeTypeAuthError        uint32 = 2
	CodeTypeValidation       uint32 = 3
	CodeTypeRateLimited      uint32 = 4
	CodeTypeNotFound         uint32 = 5
	CodeTypeUnauthorized     uint32 = 6
	CodeTypeStorage          uint32 = 7
	CodeTypeUnknownOperation uint32 = 8
	CodeTypeInvalidState     uint32 = 9
	CodeTypeReplayed         uint32 = 10
)

// Codespace tags every non-zero code returned by this application.
const Codespace = "tcm"

// GenesisState is the app_state section of the Tendermint genesis file.
type GenesisState struct {
	Admin   string `json:"admin"`
	Version string `json:"version,omitempty"`
}

// ABCIApplication implements the ABCI interface.
type ABCIApplication struct {
	abci.BaseApplication

	ledger *ledger.Ledger
	store  store.Store
	sink   events.Sink
	logger *slog.Logger

	// block being executed
	height    int64
	blockTime uint64
	txIndex   uint32

	// appHash includes mutations of the block in progress; lastCommit only
	// what Commit has persisted.
	appHash    []byte
	lastCommit store.Commit
	// replay is the position of the last mutation already in the store.
	replay types.Checkpoint
}

// Option configures an ABCIApplication.
type Option func(*ABCIApplication)

// WithSink routes delivered events to s.
func WithSink(s events.Sink) Option {
	return func(app *ABCIApplication) { app.sink = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(app *ABCIApplication) {
		if logger != nil {
			app.logger = logger.With("component", "abci")
		}
	}
}

// NewABCIApplication restores the last commit and replay position from s.
func NewABCIApplication(ctx context.Context, l *ledger.Ledger, s store.Store, opts ...Option) (*ABCIApplication, error) {
	if l == nil || s == nil {
		return nil, errors.New("abci: ledger and store are required")
	}
	app := &ABCIApplication{
		ledger: l,
		store:  s,
		logger: slog.Default().With("component", "abci"),
	}
	for _, opt := range opts {
		opt(app)
	}

	commit, err := s.LastCommit(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load last commit: %w", err)
	}
	app.lastCommit = commit
	app.appHash = commit.AppHash

	cp, err := s.Checkpoint(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	default:
		app.replay = cp
		// Mutations of an uncommitted block survive a crash; the chain
		// continues from them.
		if cp.Height > commit.Height {
			app.appHash = cp.AppHash
		}
	}

	app.logger.Info("abci application ready",
		"last_height", commit.Height,
		"app_hash", fmt.Sprintf("%X", app.appHash),
		"replay_height", app.replay.Height)
	return app, nil
}

// AppHash returns the running application hash.
func (app *ABCIApplication) AppHash() []byte {
	return append([]byte(nil), app.appHash...)
}

func (app *ABCIApplication) Info(req abci.RequestInfo) abci.ResponseInfo {
	return abci.ResponseInfo{
		Data:             "tcm",
		Version:          types.Version,
		AppVersion:       1,
		LastBlockHeight:  app.lastCommit.Height,
		LastBlockAppHash: app.lastCommit.AppHash,
	}
}

func (app *ABCIApplication) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	if len(req.AppStateBytes) == 0 {
		return abci.ResponseInitChain{}
	}
	var gen GenesisState
	if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
		app.logger.Error("invalid genesis app_state, instance left uninitialized", "error", err)
		return abci.ResponseInitChain{}
	}
	if gen.Admin == "" {
		return abci.ResponseInitChain{}
	}

	ctx := context.Background()
	g, err := app.ledger.State(ctx)
	if err != nil {
		app.logger.Error("failed to read ledger state at genesis", "error", err)
		return abci.ResponseInitChain{}
	}
	if g.Status != types.StatusUninitialized {
		app.logger.Info("ledger already initialized, skipping genesis", "admin", g.Admin, "version", g.Version)
		return abci.ResponseInitChain{}
	}

	call := types.Call{Action: types.ActionCreate, Caller: gen.Admin}
	if gen.Version != "" {
		call.Args = []string{gen.Version}
	}
	res, err := app.ledger.Dispatch(ctx, call)
	if err != nil {
		app.logger.Error("genesis initialization failed", "admin", gen.Admin, "error", err)
		return abci.ResponseInitChain{}
	}
	app.publish(ctx, 0, "", res.Events)
	app.logger.Info("ledger initialized from genesis", "admin", gen.Admin)
	return abci.ResponseInitChain{}
}

func (app *ABCIApplication) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.height = req.Header.Height
	app.txIndex = 0
	if ts := req.Header.Time.Unix(); ts > 0 {
		app.blockTime = uint64(ts)
	} else {
		app.blockTime = 0
	}
	return abci.ResponseBeginBlock{}
}

func (app *ABCIApplication) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	stx, tx, code, log := decode(req.Tx)
	if code != CodeTypeOK {
		return abci.ResponseCheckTx{Code: code, Log: log, Codespace: Codespace}
	}
	if tx.Action == types.ActionNoOp || tx.Action == "" {
		if len(tx.Args) > 0 && tx.Args[0] == types.MethodSubmitReport {
			if _, err := ledger.ParseSubmission(app.ledger.Params(), tx.Args); err != nil {
				return abci.ResponseCheckTx{Code: codeFor(err), Log: err.Error(), Codespace: Codespace}
			}
		}
	}
	applied, err := app.store.TxApplied(context.Background(), txID(stx))
	if err != nil {
		return abci.ResponseCheckTx{Code: CodeTypeStorage, Log: err.Error(), Codespace: Codespace}
	}
	if applied {
		return abci.ResponseCheckTx{Code: CodeTypeReplayed, Log: "transaction already applied", Codespace: Codespace}
	}
	app.logger.Debug("tx accepted into mempool", "signer", stx.Signer(), "action", tx.Action)
	return abci.ResponseCheckTx{Code: CodeTypeOK}
}

func (app *ABCIApplication) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	index := app.txIndex
	app.txIndex++

	stx, tx, code, log := decode(req.Tx)
	if code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: code, Log: log, Codespace: Codespace}
	}

	if app.replay.Height > 0 && app.replay.Covers(app.height, index) {
		app.logger.Info("skipping already applied tx", "height", app.height, "index", index)
		return abci.ResponseDeliverTx{Code: CodeTypeOK, Log: "already applied"}
	}

	candidate, err := chainHash(app.appHash, stx.Tx)
	if err != nil {
		return abci.ResponseDeliverTx{Code: CodeTypeEncodingError, Log: "failed to canonicalize tx", Codespace: Codespace}
	}

	ctx := context.Background()
	txHash := fmt.Sprintf("%X", tmhash.Sum(req.Tx))
	call := types.Call{
		Action:    tx.Action,
		Args:      tx.Args,
		Caller:    stx.Signer(),
		Timestamp: app.blockTime,
		TxHash:    txHash,
		TxID:      txID(stx),
		Position:  &types.Checkpoint{Height: app.height, Index: index, AppHash: candidate},
	}
	res, err := app.ledger.Dispatch(ctx, call)
	if err != nil {
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error(), Codespace: Codespace}
	}
	if res.Mutated {
		app.appHash = candidate
	}

	app.publish(ctx, app.height, txHash, res.Events)
	return abci.ResponseDeliverTx{
		Code:   CodeTypeOK,
		Data:   []byte(res.Value),
		Events: toABCIEvents(res.Events),
	}
}

func (app *ABCIApplication) Commit() abci.ResponseCommit {
	c := store.Commit{Height: app.height, AppHash: app.AppHash()}
	if err := app.store.SaveCommit(context.Background(), c); err != nil {
		app.logger.Error("failed to persist commit", "height", c.Height, "error", err)
	} else {
		app.lastCommit = c
	}
	return abci.ResponseCommit{Data: c.AppHash}
}

// Query serves /report/<id>, /stats, /submitter/<address> and /state.
func (app *ABCIApplication) Query(req abci.RequestQuery) abci.ResponseQuery {
	ctx := context.Background()
	path := strings.Trim(req.Path, "/")
	head, rest, _ := strings.Cut(path, "/")

	var (
		v   any
		err error
	)
	switch head {
	case "report":
		id, perr := strconv.ParseUint(rest, 10, 64)
		if perr != nil {
			return abci.ResponseQuery{Code: CodeTypeValidation, Log: fmt.Sprintf("invalid report id %q", rest), Codespace: Codespace}
		}
		v, err = app.ledger.Report(ctx, id)
	case "stats":
		v, err = app.ledger.Stats(ctx)
	case "submitter":
		v, err = app.ledger.Submitter(ctx, rest)
	case "state":
		v, err = app.ledger.State(ctx)
	default:
		return abci.ResponseQuery{Code: CodeTypeUnknownOperation, Log: "unknown query path " + req.Path, Codespace: Codespace}
	}
	if err != nil {
		return abci.ResponseQuery{Code: codeFor(err), Log: err.Error(), Codespace: Codespace, Height: app.lastCommit.Height}
	}

	out, err := ledger.Canonical(v)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error(), Codespace: Codespace}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Value: out, Height: app.lastCommit.Height}
}

func (app *ABCIApplication) publish(ctx context.Context, height int64, txHash string, evs []types.Event) {
	if app.sink == nil {
		return
	}
	for _, ev := range evs {
		if err := app.sink.Publish(ctx, events.NewEnvelope(height, txHash, ev)); err != nil {
			app.logger.Warn("event publish failed", "kind", ev.Kind, "error", err)
		}
	}
}

func decode(raw []byte) (*types.SignedTransaction, *types.Transaction, uint32, string) {
	var stx types.SignedTransaction
	if err := json.Unmarshal(raw, &stx); err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode signed tx"
	}
	if !stx.Verify() {
		return nil, nil, CodeTypeAuthError, "invalid signature"
	}
	tx, err := stx.GetTransaction()
	if err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode inner tx"
	}
	return &stx, tx, CodeTypeOK, ""
}

// txID identifies a signed transaction by its signer and signed bytes, so
// re-encoding the envelope does not produce a new identity.
func txID(stx *types.SignedTransaction) string {
	buf := make([]byte, 0, len(stx.PublicKey)+len(stx.Tx))
	buf = append(buf, stx.PublicKey...)
	buf = append(buf, stx.Tx...)
	return fmt.Sprintf("%X", tmhash.Sum(buf))
}

// chainHash folds one accepted mutation into the running application hash.
func chainHash(prev, tx []byte) ([]byte, error) {
	canon, err := jcs.Transform(tx)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(prev)
	h.Write(canon)
	return h.Sum(nil), nil
}

func codeFor(err error) uint32 {
	switch ledger.KindOf(err) {
	case ledger.ErrValidation:
		return CodeTypeValidation
	case ledger.ErrRateLimited:
		return CodeTypeRateLimited
	case ledger.ErrNotFound:
		return CodeTypeNotFound
	case ledger.ErrUnauthorized:
		return CodeTypeUnauthorized
	case ledger.ErrUnknownOperation:
		return CodeTypeUnknownOperation
	case ledger.ErrInvalidState:
		return CodeTypeInvalidState
	case ledger.ErrReplayed:
		return CodeTypeReplayed
	}
	return CodeTypeStorage
}

func toABCIEvents(evs []types.Event) []abci.Event {
	if len(evs) == 0 {
		return nil
	}
	out := make([]abci.Event, 0, len(evs))
	for _, ev := range evs {
		keys := make([]string, 0, len(ev.Attributes))
		for k := range ev.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		attrs := make([]abci.EventAttribute, 0, len(keys)+1)
		attrs = append(attrs, abci.EventAttribute{Key: []byte("line"), Value: []byte(ev.Line)})
		for _, k := range keys {
			attrs = append(attrs, abci.EventAttribute{Key: []byte(k), Value: []byte(ev.Attributes[k]), Index: true})
		}
		out = append(out, abci.Event{Type: string(ev.Kind), Attributes: attrs})
	}
	return out
}

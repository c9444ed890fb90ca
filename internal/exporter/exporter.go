// Package exporter drives one Yuque export from the document page to files
// in the vault.
package exporter

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/yuque_exporter/internal/automation"
	"github.com/italolelis/yuque_exporter/internal/download"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/markdown"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/italolelis/yuque_exporter/internal/vault"
)

// DefaultCooldown keeps the guard set after a run ends so repeated triggers
// are absorbed.
const DefaultCooldown = 3 * time.Second

// PageSource opens the document page an export runs against.
type PageSource interface {
	OpenPage(ctx context.Context, pageURL string) (page automation.Page, closePage func(), err error)
}

// Vault is the write side of the vault store.
type Vault interface {
	Validate(ctx context.Context) (vault.DirHandle, error)
	WriteFile(ctx context.Context, relPath string, r io.Reader) (int64, error)
}

// DownloadMonitor catches the download the export dialog starts.
type DownloadMonitor interface {
	Monitor(ctx context.Context) *download.Pending
}

type Config struct {
	Selectors      automation.Selectors
	Delays         automation.Delays
	ElementTimeout time.Duration
	Cooldown       time.Duration
}

// DefaultConfig uses the built-in selectors and UI timings.
func DefaultConfig() Config {
	return Config{
		Selectors:      automation.DefaultSelectors(),
		Delays:         automation.DefaultDelays(),
		ElementTimeout: automation.DefaultElementTimeout,
		Cooldown:       DefaultCooldown,
	}
}

type Option func(*Exporter)

// WithStatusSink replaces the default LogSink.
func WithStatusSink(s StatusSink) Option {
	return func(e *Exporter) { e.sink = s }
}

// WithHistory records every run.
func WithHistory(repo storage.ExportRepository) Option {
	return func(e *Exporter) { e.history = repo }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Exporter) { e.tel = tel }
}

// Exporter runs at most one export at a time.
type Exporter struct {
	cfg     Config
	pages   PageSource
	vault   Vault
	monitor DownloadMonitor
	content ContentFetcher
	assets  transfer.Downloader
	sink    StatusSink
	history storage.ExportRepository
	tel     *telemetry.Telemetry

	busy atomic.Bool

	mu      sync.Mutex
	current *Run
}

func New(
	cfg Config,
	pages PageSource,
	v Vault,
	monitor DownloadMonitor,
	content ContentFetcher,
	assets transfer.Downloader,
	opts ...Option,
) *Exporter {
	e := &Exporter{
		cfg:     cfg,
		pages:   pages,
		vault:   v,
		monitor: monitor,
		content: content,
		assets:  assets,
		sink:    LogSink{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Busy reports whether a run is in flight or cooling down.
func (e *Exporter) Busy() bool {
	return e.busy.Load()
}

// Current returns the most recent run, or nil.
func (e *Exporter) Current() *Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.current
}

// Export starts a run and waits for it.
func (e *Exporter) Export(ctx context.Context, pageURL string) (Result, error) {
	run, err := e.Start(ctx, pageURL)
	if err != nil {
		return Result{}, err
	}

	return run.Wait(ctx)
}

// Start begins a run in the background. A second call while one is in flight
// fails at once with ErrAlreadyInProgress and leaves the running export alone.
func (e *Exporter) Start(ctx context.Context, pageURL string) (*Run, error) {
	if !e.busy.CompareAndSwap(false, true) {
		e.sink.Status(ctx, Status{State: e.currentState(), Kind: KindBusy, Message: msgBusy})

		return nil, ErrAlreadyInProgress
	}

	run := newRun(pageURL)

	e.mu.Lock()
	e.current = run
	e.mu.Unlock()

	ctx, logger := logctx.With(ctx, "run_id", run.ID)
	logger.InfoContext(ctx, "export started", "page_url", pageURL)

	e.recordStart(ctx, run)

	go func() {
		var (
			res Result
			err error
		)

		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "panic in export run", "panic", r, "stack", string(debug.Stack()))
				err = &StageError{State: run.State(), Err: fmt.Errorf("panic: %v", r)}
			}

			e.finish(ctx, run, res, err)
		}()

		err = e.tel.InstrumentExport(ctx, func(ctx context.Context) error {
			var err error
			res, err = e.execute(ctx, run)

			return err
		})
	}()

	return run, nil
}

func (e *Exporter) currentState() State {
	if run := e.Current(); run != nil {
		return run.State()
	}

	return StateIdle
}

func (e *Exporter) status(ctx context.Context, run *Run, kind Kind, msg string) {
	e.sink.Status(ctx, Status{RunID: run.ID, State: run.State(), Kind: kind, Message: msg})
}

// stage moves run to s and runs fn inside a stage span.
func (e *Exporter) stage(ctx context.Context, run *Run, s State, fn func(ctx context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx)

	run.setState(s)
	logger.DebugContext(ctx, "export state changed", "state", s)

	start := time.Now()

	if err := e.tel.InstrumentStage(ctx, s.String(), fn); err != nil {
		return &StageError{State: s, Err: err}
	}

	logger.DebugContext(ctx, "export stage finished", "state", s, "duration", time.Since(start).String())

	return nil
}

func (e *Exporter) execute(ctx context.Context, run *Run) (Result, error) {
	var (
		sel  = e.cfg.Selectors
		wait = e.cfg.ElementTimeout

		page      automation.Page
		confirm   automation.Element
		dl        download.Descriptor
		content   string
		assets    []markdown.Asset
		rewritten markdown.Result
		res       Result
	)

	err := e.stage(ctx, run, StateValidatingVault, func(ctx context.Context) error {
		_, err := e.vault.Validate(ctx)

		return err
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateTriggeringExport, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgOpenMenu)

		p, closePage, err := e.pages.OpenPage(ctx, run.PageURL)
		if err != nil {
			return err
		}

		page = p
		run.onFinish(closePage)

		item, err := automation.NewTrigger(page, sel, e.cfg.Delays).Find(ctx)
		if err != nil {
			return err
		}

		if err := item.Click(ctx); err != nil {
			return fmt.Errorf("click export menu item: %w", err)
		}

		return automation.Sleep(ctx, e.cfg.Delays.AfterExportClick)
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateAwaitingFormatDialog, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgSelectMarkdown)

		option, err := automation.WaitFor(ctx, page, sel.MarkdownOption, wait)
		if err != nil {
			return err
		}

		if err := option.Click(ctx); err != nil {
			return fmt.Errorf("select markdown format: %w", err)
		}

		if err := automation.Sleep(ctx, e.cfg.Delays.AfterFormatSelect); err != nil {
			return err
		}

		if confirm, err = automation.WaitFor(ctx, page, sel.ConfirmButton, wait); err != nil {
			return err
		}

		own, err := automation.IsOwnControl(ctx, confirm, sel)
		if err != nil {
			return err
		}

		if own {
			return fmt.Errorf("confirm button %s belongs to this tool: %w", confirm.Describe(ctx), automation.ErrTriggerNotFound)
		}

		return nil
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateAwaitingDownload, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgGenerating)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		pending := e.monitor.Monitor(ctx)

		if err := automation.Sleep(ctx, e.cfg.Delays.AfterMonitorStart); err != nil {
			return err
		}

		if err := confirm.Click(ctx); err != nil {
			return fmt.Errorf("confirm export: %w", err)
		}

		start := time.Now()

		var err error
		if dl, err = pending.Wait(ctx); err != nil {
			return err
		}

		logctx.LoggerFromContext(ctx).InfoContext(ctx, "export download completed",
			"filename", dl.Filename, "waited", time.Since(start).String())

		return nil
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateFetchingContent, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgReading)

		if err := checkFormat(dl); err != nil {
			return err
		}

		var err error
		content, err = e.content.Fetch(ctx, dl)

		return err
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateValidatingContent, func(context.Context) error {
		return validateContent(content)
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateCollectingAssets, func(ctx context.Context) error {
		var err error
		assets, err = automation.CollectVideos(ctx, page, sel)

		return err
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StateTransformingContent, func(ctx context.Context) error {
		rewritten = markdown.Rewrite(content, assets)
		res.Filename = markdown.Filename(rewritten.Content)
		res.Videos = len(assets)
		res.Replaced = rewritten.Replaced
		res.Unmatched = len(rewritten.Unmatched)

		if len(rewritten.Unmatched) > 0 {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "video placeholders not found in markdown",
				"ids", strings.Join(rewritten.Unmatched, ","))
		}

		return nil
	})
	if err != nil {
		return res, err
	}

	err = e.stage(ctx, run, StatePersistingMarkdown, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgSaving)

		_, err := e.vault.WriteFile(ctx, res.Filename, strings.NewReader(rewritten.Content))

		return err
	})
	if err != nil {
		return res, err
	}

	if len(assets) == 0 {
		return res, nil
	}

	err = e.stage(ctx, run, StatePersistingAssets, func(ctx context.Context) error {
		e.status(ctx, run, KindProgress, msgDownloadingVideos(len(assets)))

		return e.persistAssets(ctx, run, assets)
	})

	return res, err
}

// finish settles the run, reports it and schedules the guard release.
func (e *Exporter) finish(ctx context.Context, run *Run, res Result, err error) {
	logger := logctx.LoggerFromContext(ctx)

	res.Duration = time.Since(run.StartedAt)

	last := run.State()

	if err != nil {
		run.setState(StateFailed)
		logger.ErrorContext(ctx, "export failed", "state", last, "duration", res.Duration.String(), "err", err)
		e.status(ctx, run, KindError, msgFailed(err))
	} else {
		run.setState(StateDone)
		logger.InfoContext(ctx, "export finished",
			"filename", res.Filename,
			"videos", res.Videos,
			"replaced", res.Replaced,
			"duration", res.Duration.String())
		e.status(ctx, run, KindSuccess, msgDone(res.Filename))
	}

	e.recordFinish(ctx, run, last, res, err)

	time.AfterFunc(e.cfg.Cooldown, func() { e.busy.Store(false) })

	run.complete(res, err)
}

func (e *Exporter) recordStart(ctx context.Context, run *Run) {
	if e.history == nil {
		return
	}

	err := e.history.StartExport(ctx, storage.ExportRecord{
		ID:        run.ID,
		PageURL:   run.PageURL,
		State:     storage.ExportRunning,
		Stage:     run.State().String(),
		StartedAt: run.StartedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record export start", "err", err)
	}
}

func (e *Exporter) recordFinish(ctx context.Context, run *Run, stage State, res Result, runErr error) {
	if e.history == nil {
		return
	}

	rec := storage.ExportRecord{
		ID:         run.ID,
		PageURL:    run.PageURL,
		Filename:   res.Filename,
		State:      storage.ExportDone,
		Stage:      StateDone.String(),
		Assets:     res.Videos,
		Replaced:   res.Replaced,
		StartedAt:  run.StartedAt,
		FinishedAt: run.StartedAt.Add(res.Duration),
	}

	if runErr != nil {
		rec.State = storage.ExportFailed
		rec.Stage = stage.String()
		rec.Error = runErr.Error()
	}

	if err := e.history.FinishExport(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record export result", "err", err)
	}
}

// Result describes a finished export.
type Result struct {
	Filename  string        `json:"filename"`
	Videos    int           `json:"videos"`
	Replaced  int           `json:"replaced"`
	Unmatched int           `json:"unmatched"`
	Duration  time.Duration `json:"duration"`
}

// Run is one export attempt.
type Run struct {
	ID        string
	PageURL   string
	StartedAt time.Time

	mu       sync.Mutex
	state    State
	result   Result
	err      error
	cleanups []func()
	done     chan struct{}
}

func newRun(pageURL string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		PageURL:   pageURL,
		StartedAt: time.Now(),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) onFinish(fn func()) {
	if fn == nil {
		return
	}

	r.mu.Lock()
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

func (r *Run) complete(res Result, err error) {
	r.mu.Lock()
	r.result, r.err = res, err
	cleanups := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	close(r.done)
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// RunView is a point-in-time copy of a run.
type RunView struct {
	ID        string    `json:"id"`
	PageURL   string    `json:"page_url"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (r *Run) View() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := RunView{ID: r.ID, PageURL: r.PageURL, State: r.state, StartedAt: r.StartedAt}

	select {
	case <-r.done:
		res := r.result
		v.Result = &res

		if r.err != nil {
			v.Error = r.err.Error()
		}
	default:
	}

	return v
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result, r.err
}

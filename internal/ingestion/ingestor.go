// Package ingestion drives tokens from the live feed through risk screening,
// trader analytics and persistence.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"token-sniffer/internal/analytics"
	"token-sniffer/internal/domain"
	"token-sniffer/internal/feed"
	"token-sniffer/internal/notify"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/solana"
	"token-sniffer/internal/storage"
)

// Default configuration values.
const (
	DefaultWorkers        = 5
	DefaultQueueSize      = 100
	DefaultDedupCapacity  = 10000
	DefaultDedupTTL       = time.Hour
	DefaultAssessTimeout  = 30 * time.Second
	DefaultAnalyzeTimeout = 3 * time.Minute
	DefaultDrainTimeout   = 30 * time.Second
	DefaultPersistTimeout = 10 * time.Second
)

// Feed delivers raw token creation messages. *feed.Client implements it.
type Feed interface {
	Run(ctx context.Context) error
	Messages() <-chan []byte
}

// Assessor renders risk verdicts. *risk.Assessor implements it.
type Assessor interface {
	Assess(ctx context.Context, mint string) (*domain.RiskVerdict, error)
}

// Analyzer runs trader analytics. *analytics.Analyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, mint string, topN int) (*domain.AnalysisRun, error)
}

// Options configures an Ingestor.
type Options struct {
	Feed     Feed
	Decoder  *feed.Decoder
	Assessor Assessor
	Analyzer Analyzer
	Store    storage.Store

	// Optional collaborators, called after persistence. Failures are logged only.
	Notifier notify.Notifier
	History  storage.HistoryStore
	// Assets resolves metadata of mints analyzed outside the feed.
	Assets solana.AssetClient

	Workers        int           // tokens processed in parallel
	QueueSize      int           // decoded tokens waiting for a worker
	DedupCapacity  int           // remembered mints
	DedupTTL       time.Duration // how long a mint is remembered
	TopN           int           // holders per analysis, 0 = analyzer default
	AssessTimeout  time.Duration // bounds one risk assessment including retries
	AnalyzeTimeout time.Duration // bounds one analysis run
	DrainTimeout   time.Duration // in-flight work is cancelled this long after shutdown starts
	PersistTimeout time.Duration // bounds each store write

	Logger *zap.Logger
	Now    func() time.Time
}

// Ingestor is the token pipeline.
type Ingestor struct {
	opts   Options
	log    *zap.Logger
	dedup  *DedupSet
	queue  chan *domain.TokenRecord
	notify notify.Notifier
}

// NewIngestor creates an Ingestor. Feed is only required by Run.
func NewIngestor(opts Options) (*Ingestor, error) {
	if opts.Assessor == nil || opts.Analyzer == nil || opts.Store == nil {
		return nil, errors.New("ingestor requires assessor, analyzer and store")
	}
	if opts.Decoder == nil {
		opts.Decoder = feed.NewDecoder()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DedupCapacity <= 0 {
		opts.DedupCapacity = DefaultDedupCapacity
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}
	if opts.AssessTimeout <= 0 {
		opts.AssessTimeout = DefaultAssessTimeout
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = DefaultAnalyzeTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}

	return &Ingestor{
		opts:   opts,
		log:    opts.Logger.With(zap.String("component", "ingestion")),
		dedup:  NewDedupSet(opts.DedupCapacity, opts.DedupTTL),
		queue:  make(chan *domain.TokenRecord, opts.QueueSize),
		notify: n,
	}, nil
}

// Run consumes the feed until ctx is cancelled or the feed stops.
//
// On shutdown the consumer stops first and the queue is closed; workers finish
// what is queued and in-flight work is cancelled once DrainTimeout has passed.
// Tokens whose assessment was cancelled are persisted as pending. The feed is
// closed last. Run may be called once.
func (i *Ingestor) Run(ctx context.Context) error {
	if i.opts.Feed == nil {
		return errors.New("ingestor has no feed")
	}

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	feedDone := make(chan error, 1)
	go func() {
		feedDone <- i.opts.Feed.Run(feedCtx)
	}()

	// Workers outlive ctx by up to DrainTimeout.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for w := 0; w < i.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tok := range i.queue {
				observability.SetQueueDepth(len(i.queue))
				i.process(workCtx, tok)
			}
		}()
	}

	i.log.Info("ingestor started",
		zap.Int("workers", i.opts.Workers),
		zap.Int("queue_size", i.opts.QueueSize))

	feedEnded := i.consume(ctx)
	close(i.queue)

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	if ctx.Err() != nil {
		i.log.Info("draining ingestor", zap.Int("queued", len(i.queue)))
		select {
		case <-workersDone:
		case <-time.After(i.opts.DrainTimeout):
			i.log.Warn("drain timeout reached, cancelling in-flight work")
			cancelWork()
			<-workersDone
		}
	} else {
		<-workersDone
	}

	stopFeed()
	feedErr := <-feedDone
	i.log.Info("ingestor stopped")

	if feedEnded && ctx.Err() == nil {
		if feedErr != nil {
			return fmt.Errorf("feed stopped: %w", feedErr)
		}
		return errors.New("feed stopped")
	}
	return nil
}

// consume is the single feed reader. It reports whether the feed channel closed.
func (i *Ingestor) consume(ctx context.Context) bool {
	messages := i.opts.Feed.Messages()
	for {
		select {
		case <-ctx.Done():
			return false
		case raw, ok := <-messages:
			if !ok {
				return true
			}
			if err := i.OnEvent(ctx, raw); err != nil && ctx.Err() != nil {
				return false
			}
		}
	}
}

// OnEvent decodes one feed message and queues the token for processing.
// Blocks while the queue is full. Malformed and duplicate messages are
// counted and dropped; only cancellation is returned as an error.
func (i *Ingestor) OnEvent(ctx context.Context, raw []byte) error {
	tok, err := i.opts.Decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, feed.ErrIgnored) {
			return nil
		}
		observability.RecordMalformedEvent()
		i.log.Debug("discarding malformed event", zap.Error(err))
		return nil
	}

	if !i.dedup.Add(tok.Mint) {
		observability.RecordDuplicateEvent()
		return nil
	}

	select {
	case i.queue <- tok:
		observability.SetQueueDepth(len(i.queue))
		return nil
	case <-ctx.Done():
		// Accepted but never queued: keep the record.
		i.persistToken(ctx, tok)
		return ctx.Err()
	}
}

// process screens one token and, if approved, analyzes it.
func (i *Ingestor) process(ctx context.Context, tok *domain.TokenRecord) {
	start := i.opts.Now()
	log := i.log.With(zap.String("mint", tok.Mint), zap.String("symbol", tok.Symbol))

	if !i.assess(ctx, tok, log) {
		i.persistToken(ctx, tok)
		observability.RecordTokenProcessed(string(domain.VerdictPending), time.Since(start))
		return
	}

	if !i.persistToken(ctx, tok) {
		return
	}
	i.notifyToken(ctx, tok, log)
	observability.RecordTokenProcessed(string(tok.Verdict), time.Since(start))
	log.Info("token assessed",
		zap.String("verdict", string(tok.Verdict)),
		zap.Float64("score", tok.Score),
		zap.Int("factors", len(tok.Factors)))

	if tok.Verdict != domain.VerdictApproved {
		return
	}

	if _, err := i.analyze(ctx, tok.Mint, log); err != nil && !errors.Is(err, analytics.ErrNoHolders) {
		log.Warn("trader analysis failed", zap.Error(err))
	}
}

// assess applies a verdict to tok. It returns false when the assessment was
// cancelled and tok is still pending. Assessor failures become rejections.
func (i *Ingestor) assess(ctx context.Context, tok *domain.TokenRecord, log *zap.Logger) bool {
	assessCtx, cancel := context.WithTimeout(ctx, i.opts.AssessTimeout)
	verdict, err := i.opts.Assessor.Assess(assessCtx, tok.Mint)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			log.Info("assessment cancelled, keeping token pending")
			return false
		}
		log.Warn("risk assessment failed", zap.Error(err))
		verdict = &domain.RiskVerdict{
			Approved: false,
			Factors: []domain.RiskFactor{{
				Tag:         domain.FactorAssessmentFailed,
				Severity:    domain.SeverityDanger,
				Description: err.Error(),
			}},
		}
	}

	if err := tok.ApplyVerdict(verdict, i.opts.Now().UnixMilli()); err != nil {
		log.Warn("verdict not applied", zap.Error(err))
	}
	return true
}

// analyze runs the trader analysis of an approved mint and persists it.
func (i *Ingestor) analyze(ctx context.Context, mint string, log *zap.Logger) (*domain.AnalysisRun, error) {
	analyzeCtx, cancel := context.WithTimeout(ctx, i.opts.AnalyzeTimeout)
	defer cancel()

	run, err := i.opts.Analyzer.Analyze(analyzeCtx, mint, i.opts.TopN)
	if err != nil {
		if errors.Is(err, analytics.ErrNoHolders) {
			log.Info("token has no holders yet, empty analysis")
		}
		return nil, err
	}

	pctx, pcancel := i.persistContext(ctx)
	defer pcancel()
	if err := i.opts.Store.UpsertAnalysisRun(pctx, run); err != nil {
		return nil, fmt.Errorf("persist analysis run: %w", err)
	}

	log.Info("trader analysis stored",
		zap.String("run_id", run.ID),
		zap.Int("wallets", len(run.Wallets)),
		zap.Int("dropped", run.Dropped),
		zap.Bool("price_available", run.PriceAvailable),
		zap.Int64("duration_ms", run.DurationMs))

	if i.opts.History != nil {
		if err := i.opts.History.AppendRun(pctx, run); err != nil {
			observability.RecordNotificationError("history")
			log.Warn("history append failed", zap.Error(err))
		}
	}
	if err := i.notify.RunCompleted(pctx, run); err != nil {
		observability.RecordNotificationError("notifier")
		log.Warn("run notification failed", zap.Error(err))
	}
	return run, nil
}

// persistToken writes tok on a context detached from cancellation.
func (i *Ingestor) persistToken(ctx context.Context, tok *domain.TokenRecord) bool {
	pctx, cancel := i.persistContext(ctx)
	defer cancel()

	if err := i.opts.Store.UpsertToken(pctx, tok); err != nil {
		i.log.Error("persist token failed",
			zap.String("mint", tok.Mint),
			zap.String("verdict", string(tok.Verdict)),
			zap.Error(err))
		return false
	}
	return true
}

func (i *Ingestor) notifyToken(ctx context.Context, tok *domain.TokenRecord, log *zap.Logger) {
	pctx, cancel := i.persistContext(ctx)
	defer cancel()

	if err := i.notify.TokenAssessed(pctx, tok); err != nil {
		observability.RecordNotificationError("notifier")
		log.Warn("token notification failed", zap.Error(err))
	}
}

func (i *Ingestor) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), i.opts.PersistTimeout)
}

// AnalyzeOnce screens and analyzes a single mint outside the feed.
// A token already holding a final verdict keeps it. The returned run is nil
// when the token was rejected or has no holders.
func (i *Ingestor) AnalyzeOnce(ctx context.Context, mint string) (*domain.TokenRecord, *domain.AnalysisRun, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, nil, fmt.Errorf("invalid mint: %w", err)
	}
	log := i.log.With(zap.String("mint", mint))

	tok, err := i.opts.Store.GetToken(ctx, mint)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		tok = i.newToken(ctx, mint, log)
	case err != nil:
		return nil, nil, fmt.Errorf("load token: %w", err)
	}

	if !tok.Verdict.IsFinal() {
		if !i.assess(ctx, tok, log) {
			return nil, nil, fmt.Errorf("assess %s: %w", mint, ctx.Err())
		}
		if !i.persistToken(ctx, tok) {
			return nil, nil, fmt.Errorf("persist token %s failed", mint)
		}
		i.notifyToken(ctx, tok, log)
	}

	if tok.Verdict != domain.VerdictApproved {
		return tok, nil, nil
	}

	run, err := i.analyze(ctx, mint, log)
	if err != nil {
		if errors.Is(err, analytics.ErrNoHolders) {
			return tok, nil, nil
		}
		return tok, nil, err
	}
	return tok, run, nil
}

// newToken builds a pending record for a mint not seen on the feed, using the
// asset metadata when available.
func (i *Ingestor) newToken(ctx context.Context, mint string, log *zap.Logger) *domain.TokenRecord {
	tok := &domain.TokenRecord{
		Mint:      mint,
		CreatedAt: i.opts.Now().UnixMilli(),
		Decimals:  feed.PumpFunDecimals,
		Verdict:   domain.VerdictPending,
	}
	if i.opts.Assets == nil {
		return tok
	}

	asset, err := i.opts.Assets.GetAsset(ctx, mint)
	if err != nil {
		log.Warn("asset metadata unavailable", zap.Error(err))
		return tok
	}
	tok.Name = asset.Name
	tok.Symbol = asset.Symbol
	if asset.Decimals > 0 {
		tok.Decimals = asset.Decimals
	}
	return tok
}

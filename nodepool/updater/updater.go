package updater

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nodesync/internal/shared/logger"
	"nodesync/internal/shared/metrics"
	"nodesync/nodepool/decoder"
	"nodesync/nodepool/fetcher"
	"nodesync/nodepool/model"
	"nodesync/nodepool/parser"
	"nodesync/nodepool/storage"
)

const (
	// DefaultFetchInterval 是两次抓取之间的固定等待。
	DefaultFetchInterval = 2 * time.Second

	DefaultListKey  = "NODE_CONFIG_LIST"
	DefaultIndexKey = "node_index"
)

// 触发来源
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
	TriggerOnce     = "once"
)

var (
	ErrMissingSourceURL = errors.New("source url is not set")
	ErrMissingStore     = errors.New("kv store is not bound")
)

// RunConfig 是单次运行的输入，运行期间不变。
type RunConfig struct {
	SourceURL  string
	FetchCount int
}

// Observer 接收运行开始与结束的通知。
type Observer interface {
	OnRunStarted(r Result)
	OnRunFinished(r Result)
}

// Result 记录一次运行的结果，供日志、状态接口和测试使用。
type Result struct {
	RunID          string    `json:"run_id"`
	Trigger        string    `json:"trigger"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	Attempts       int       `json:"attempts"`
	FailedAttempts int       `json:"failed_attempts"`
	NewPerBatch    []int     `json:"new_per_batch"`
	Nodes          int       `json:"nodes"`
	Persisted      bool      `json:"persisted"`
	Error          string    `json:"error,omitempty"`
}

// Options 汇集 Updater 的依赖。零值字段使用默认实现。
type Options struct {
	Run           RunConfig
	Store         storage.Store
	Fetcher       fetcher.Fetcher
	Parser        parser.Parser
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Observer      Observer
	FetchInterval time.Duration
	Schedule      time.Duration // 0 表示不启动定时触发
	ListKey       string
	IndexKey      string
}

// Updater 执行“抓取 -> 解码 -> 解析 -> 去重 -> 持久化”流程，
// 并负责定时触发与后台运行的生命周期。
type Updater struct {
	opts Options

	mu   sync.RWMutex
	last *Result

	// 调度器与生命周期管理
	stopChan chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
	runWg    sync.WaitGroup
}

// New 创建 Updater。
func New(opts Options) *Updater {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = DefaultFetchInterval
	}
	if opts.ListKey == "" {
		opts.ListKey = DefaultListKey
	}
	if opts.IndexKey == "" {
		opts.IndexKey = DefaultIndexKey
	}
	return &Updater{
		opts:     opts,
		stopChan: make(chan struct{}),
	}
}

// Run 同步执行一次完整流程，使用构造时给定的 RunConfig。
func (u *Updater) Run(ctx context.Context, trigger string) (Result, error) {
	return u.RunWith(ctx, u.opts.Run, trigger)
}

// RunWith 同步执行一次完整流程。
func (u *Updater) RunWith(ctx context.Context, cfg RunConfig, trigger string) (Result, error) {
	return u.execute(ctx, cfg, uuid.NewString(), trigger)
}

// Trigger 在后台启动一次运行并立即返回运行 ID。
// 运行不可取消；Stop 会等待所有已启动的运行结束。
func (u *Updater) Trigger(trigger string) string {
	runID := uuid.NewString()
	cfg := u.opts.Run

	u.runWg.Add(1)
	go func() {
		defer u.runWg.Done()
		_, _ = u.execute(context.Background(), cfg, runID, trigger)
	}()
	return runID
}

// Wait 阻塞到所有后台运行结束。
func (u *Updater) Wait() {
	u.runWg.Wait()
}

// LastResult 返回最近一次结束的运行结果。
func (u *Updater) LastResult() (Result, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.last == nil {
		return Result{}, false
	}
	return *u.last, true
}

// Start 启动定时触发循环。Schedule 为 0 时不做任何事。
func (u *Updater) Start() {
	l := logger.WithComponent("NodePool/Updater")
	if u.opts.Schedule <= 0 {
		l.Info().Msg("Scheduler disabled.")
		return
	}

	ticker := u.opts.Clock.Ticker(u.opts.Schedule)
	l.Info().Dur("interval", u.opts.Schedule).Msg("Scheduler initialized.")

	u.loopWg.Add(1)
	go u.schedulerLoop(ticker)
}

func (u *Updater) schedulerLoop(ticker *clock.Ticker) {
	defer u.loopWg.Done()
	defer ticker.Stop()
	l := logger.WithComponent("NodePool/Updater")

	for {
		select {
		case <-ticker.C:
			l.Info().Msg("Cron trigger activated: starting node update process.")
			u.Trigger(TriggerSchedule)
		case <-u.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			return
		}
	}
}

// Stop 停止调度循环并等待所有进行中的运行结束。
func (u *Updater) Stop() {
	u.stopOnce.Do(func() {
		close(u.stopChan)
	})
	u.loopWg.Wait()
	u.runWg.Wait()
}

// execute 包裹 pipeline：分配运行 ID、捕获 panic、记录结果并通知观察者。
func (u *Updater) execute(ctx context.Context, cfg RunConfig, runID, trigger string) (res Result, err error) {
	l := logger.WithComponent("NodePool/Updater").With().
		Str("run_id", runID).
		Str("trigger", trigger).
		Logger()

	res = Result{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: u.opts.Clock.Now(),
	}
	if u.opts.Observer != nil {
		u.opts.Observer.OnRunStarted(res)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
			l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Update process panicked.")
			u.opts.Metrics.ObserveRun(metrics.OutcomePanicked)
		}
		res.FinishedAt = u.opts.Clock.Now()
		if err != nil {
			res.Error = err.Error()
		}
		u.record(res)
		if u.opts.Observer != nil {
			u.opts.Observer.OnRunFinished(res)
		}
	}()

	err = u.pipeline(ctx, cfg, &res, l)
	switch {
	case errors.Is(err, ErrMissingSourceURL), errors.Is(err, ErrMissingStore):
		u.opts.Metrics.ObserveRun(metrics.OutcomeConfig)
	case err != nil:
		l.Error().Err(err).Msg("Update process failed with an unexpected error.")
		u.opts.Metrics.ObserveRun(metrics.OutcomeFailed)
	case res.Persisted:
		u.opts.Metrics.ObserveRun(metrics.OutcomeUpdated)
	default:
		u.opts.Metrics.ObserveRun(metrics.OutcomeEmpty)
	}
	return res, err
}

func (u *Updater) pipeline(ctx context.Context, cfg RunConfig, res *Result, l zerolog.Logger) error {
	if u.opts.Store == nil {
		l.Error().Msg("KV store is not bound.")
		return ErrMissingStore
	}
	if cfg.SourceURL == "" {
		l.Error().Msg("Source URL is not set.")
		return ErrMissingSourceURL
	}
	if u.opts.Fetcher == nil {
		return errors.New("fetcher is not configured")
	}

	fetchCount := cfg.FetchCount
	if fetchCount < 1 {
		fetchCount = 1
	}
	l.Info().Int("fetch_count", fetchCount).Str("source_url", cfg.SourceURL).Msg("Starting sequential fetch process.")

	nodes := model.NewNodeMap()
	for i := 0; i < fetchCount; i++ {
		found, ok := u.fetchBatch(ctx, cfg.SourceURL, i+1, fetchCount, nodes, l)
		res.Attempts++
		if !ok {
			res.FailedAttempts++
		}
		res.NewPerBatch = append(res.NewPerBatch, found)

		if i < fetchCount-1 {
			l.Debug().Dur("wait", u.opts.FetchInterval).Msg("Waiting before next fetch...")
			u.wait(ctx)
		}
	}
	res.Nodes = nodes.Len()

	if nodes.Len() == 0 {
		l.Warn().Msg("No valid nodes found across all fetches. KV will not be updated.")
		return nil
	}

	persisted, err := Persist(ctx, u.opts.Store, nodes, u.opts.ListKey, u.opts.IndexKey)
	res.Persisted = persisted
	if err != nil {
		return err
	}
	u.opts.Metrics.SetPersistedNodes(nodes.Len())
	l.Info().
		Int("nodes", nodes.Len()).
		Str("list_key", u.opts.ListKey).
		Str("index_key", u.opts.IndexKey).
		Msg("Update complete. Node list written and index reset to 0.")
	return nil
}

// fetchBatch 执行一次抓取并把结果并入 nodes，返回新增数量与是否抓取成功。
func (u *Updater) fetchBatch(ctx context.Context, url string, batch, total int, nodes *model.NodeMap, l zerolog.Logger) (int, bool) {
	bl := l.With().Int("batch", batch).Int("of", total).Logger()
	bl.Info().Msg("Fetching batch...")

	body, err := u.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) {
			bl.Warn().Int("status", se.StatusCode).Msg("Fetch failed with non-success status.")
			u.opts.Metrics.ObserveFetch(metrics.FetchStatus)
		} else {
			bl.Error().Err(err).Msg("Fetch threw an error.")
			u.opts.Metrics.ObserveFetch(metrics.FetchError)
		}
		return 0, false
	}
	u.opts.Metrics.ObserveFetch(metrics.FetchOK)

	found := 0
	for _, e := range u.opts.Parser.Parse(decoder.Decode(body)) {
		if nodes.Add(e) {
			found++
		}
	}
	u.opts.Metrics.AddNodesFound(found)
	bl.Info().Int("new_nodes", found).Msg("Batch successful.")
	return found, true
}

// wait 在两次抓取之间协作式等待；ctx 取消时提前返回。
func (u *Updater) wait(ctx context.Context) {
	select {
	case <-u.opts.Clock.After(u.opts.FetchInterval):
	case <-ctx.Done():
	}
}

func (u *Updater) record(res Result) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.last = &res
}

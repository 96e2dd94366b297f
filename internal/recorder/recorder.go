package recorder

import (
	"context"
	"shorturl-analytics/internal/model"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
	DefaultTimeout   = 5 * time.Second
)

// Appender 持久化一次访问，由存储层实现
type Appender interface {
	AppendClick(ctx context.Context, id uint, event *model.ClickEvent) error
}

// Options 记录器配置
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Stats 运行计数
type Stats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

type job struct {
	linkID uint
	event  model.ClickEvent
}

// Recorder 异步写入访问记录，不阻塞跳转响应。
// 同一链接的事件总是落到同一个分片，由单个 goroutine 顺序写入，因此保持到达顺序。
// 队列已满或已停止时事件被丢弃并记录日志。
type Recorder struct {
	store   Appender
	shards  []chan job
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// New 创建记录器，需要调用 Start 后才会开始写入
func New(store Appender, opts Options, logger *zap.SugaredLogger) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	perShard := max(1, opts.QueueSize/opts.Workers)
	shards := make([]chan job, opts.Workers)
	for i := range shards {
		shards[i] = make(chan job, perShard)
	}
	return &Recorder{
		store:   store,
		shards:  shards,
		timeout: opts.Timeout,
		logger:  logger.Named("click_recorder"),
	}
}

// Start 启动分片写入协程
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i, ch := range r.shards {
		r.wg.Add(1)
		go r.run(i, ch)
	}
	r.logger.Infof("点击记录器已启动，分片数 %d", len(r.shards))
}

// Record 投递一次访问，立即返回；返回 false 表示事件被丢弃
func (r *Recorder) Record(linkID uint, event model.ClickEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		r.dropped.Add(1)
		r.logger.Warnw("记录器已停止，丢弃访问记录", "link_id", linkID)
		return false
	}

	select {
	case r.shards[int(linkID%uint(len(r.shards)))] <- job{linkID: linkID, event: event}:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warnw("访问记录队列已满，丢弃", "link_id", linkID)
		return false
	}
}

// Stop 停止接收新事件，并等待队列中已有的事件写完
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ch := range r.shards {
		close(ch)
	}
	started := r.started
	r.mu.Unlock()

	if !started {
		// 从未启动：同步写完残留事件
		for i, ch := range r.shards {
			r.wg.Add(1)
			r.run(i, ch)
		}
	}
	r.wg.Wait()
	s := r.Stats()
	r.logger.Infof("点击记录器已停止，成功 %d，失败 %d，丢弃 %d", s.Recorded, s.Failed, s.Dropped)
}

// Stats 返回运行计数
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
	}
}

func (r *Recorder) run(shard int, ch <-chan job) {
	defer r.wg.Done()
	for j := range ch {
		r.persist(shard, j)
	}
}

func (r *Recorder) persist(shard int, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	event := j.event
	if err := r.store.AppendClick(ctx, j.linkID, &event); err != nil {
		r.failed.Add(1)
		r.logger.Errorw("写入访问记录失败", "link_id", j.linkID, "shard", shard, "error", err)
		return
	}
	r.recorded.Add(1)
}

package resolution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// ErrPoolClosed 工作池已關閉
var ErrPoolClosed = errors.New("resolution pool is closed")

// job 隊列請求
type job struct {
	ctx        context.Context
	userID     string
	ingredient string
	result     chan JobResult
}

// JobResult 處理結果
type JobResult struct {
	Result Result
	Err    error
}

// Status 隊列狀態
type Status struct {
	QueueLength    int  `json:"queue_length"`
	ProcessedCount int  `json:"processed_count"`
	MaxQueueSize   int  `json:"max_queue_size"`
	Workers        int  `json:"workers"`
	Closed         bool `json:"closed"`
}

// Pool 固定數量 worker 的批次解析池，隊列有上限
type Pool struct {
	engine    *Engine
	queue     chan *job
	done      chan struct{}
	workers   int
	maxQueue  int
	processed int64
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool 創建並啟動工作池
func NewPool(engine *Engine, cfg config.ResolutionConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxQueue := cfg.QueueSize
	if maxQueue <= 0 {
		maxQueue = workers
	}

	p := &Pool{
		engine:   engine,
		queue:    make(chan *job, maxQueue),
		done:     make(chan struct{}),
		workers:  workers,
		maxQueue: maxQueue,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	common.LogInfo("Resolution pool started",
		zap.Int("workers", workers),
		zap.Int("max_queue_size", maxQueue),
	)
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.queue:
			var res JobResult
			if err := j.ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Result, res.Err = p.engine.Resolve(j.ctx, j.userID, j.ingredient)
			}
			atomic.AddInt64(&p.processed, 1)
			j.result <- res
		}
	}
}

// Submit 將請求加入隊列，隊列滿時等待直到 ctx 結束
func (p *Pool) Submit(ctx context.Context, userID, ingredient string) (<-chan JobResult, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	j := &job{
		ctx:        ctx,
		userID:     userID,
		ingredient: ingredient,
		result:     make(chan JobResult, 1),
	}

	select {
	case p.queue <- j:
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

// ResolveAll 批次解析，結果順序與輸入一致
func (p *Pool) ResolveAll(ctx context.Context, userID string, ingredients []string) ([]Result, error) {
	pending := make([]<-chan JobResult, 0, len(ingredients))
	for _, ingredient := range ingredients {
		ch, err := p.Submit(ctx, userID, ingredient)
		if err != nil {
			return nil, err
		}
		pending = append(pending, ch)
	}

	results := make([]Result, len(ingredients))
	for i, ch := range pending {
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			results[i] = res.Result
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrPoolClosed
		}
	}
	return results, nil
}

// Status 獲取隊列狀態
func (p *Pool) Status() Status {
	closed := false
	select {
	case <-p.done:
		closed = true
	default:
	}
	return Status{
		QueueLength:    len(p.queue),
		ProcessedCount: int(atomic.LoadInt64(&p.processed)),
		MaxQueueSize:   p.maxQueue,
		Workers:        p.workers,
		Closed:         closed,
	}
}

// Close 停止 worker 並等待進行中的工作結束
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		common.LogInfo("Resolution pool stopped",
			zap.Int64("processed", atomic.LoadInt64(&p.processed)),
		)
	})
}

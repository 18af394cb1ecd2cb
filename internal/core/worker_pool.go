package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job 扫描任务接口
type Job interface {
	ID() string
	Run() ([]Finding, error)
}

// Result 任务结果
type Result struct {
	JobID    string
	Findings []Finding
	Error    error
}

// PoolStats 工作池统计信息
type PoolStats struct {
	JobsSubmitted int64         `json:"jobs_submitted"`
	JobsCompleted int64         `json:"jobs_completed"`
	JobsFailed    int64         `json:"jobs_failed"`
	AvgExecTime   time.Duration `json:"avg_exec_time"`
}

// WorkerPool 扫描工作池。每个 worker 从任务通道取文件任务执行，
// 发现统一汇入结果通道。
type WorkerPool struct {
	jobCh     chan Job
	resultsCh chan Result
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	submitted  int64
	completed  int64
	failed     int64
	execTimeNs int64
}

// NewWorkerPool 创建工作池
func NewWorkerPool(ctx context.Context, workers int, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		jobCh:     make(chan Job, queueSize),
		resultsCh: make(chan Result, queueSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动工作协程
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobCh:
			if !ok {
				return
			}
			start := time.Now()
			findings, err := job.Run()

			atomic.AddInt64(&wp.completed, 1)
			atomic.AddInt64(&wp.execTimeNs, int64(time.Since(start)))
			if err != nil {
				atomic.AddInt64(&wp.failed, 1)
			}

			select {
			case wp.resultsCh <- Result{JobID: job.ID(), Findings: findings, Error: err}:
			case <-wp.ctx.Done():
				return
			}

		case <-wp.ctx.Done():
			return
		}
	}
}

// Submit 提交任务，队列满时阻塞直到有空位或池被取消
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobCh <- job:
		atomic.AddInt64(&wp.submitted, 1)
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Results 结果通道，Close 之后随最后一个任务完成而关闭
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultsCh
}

// Close 停止接收新任务，等待在途任务完成后关闭结果通道
func (wp *WorkerPool) Close() {
	close(wp.jobCh)
	wp.wg.Wait()
	close(wp.resultsCh)
}

// Abort 立即取消全部在途任务
func (wp *WorkerPool) Abort() {
	wp.cancel()
}

// Stats 当前统计快照
func (wp *WorkerPool) Stats() PoolStats {
	stats := PoolStats{
		JobsSubmitted: atomic.LoadInt64(&wp.submitted),
		JobsCompleted: atomic.LoadInt64(&wp.completed),
		JobsFailed:    atomic.LoadInt64(&wp.failed),
	}
	if stats.JobsCompleted > 0 {
		stats.AvgExecTime = time.Duration(atomic.LoadInt64(&wp.execTimeNs) / stats.JobsCompleted)
	}
	return stats
}

package scheduler

import (
	"github.com/alitto/pond/v2"
	"github.com/annel0/voxel-stream/internal/aperture"
)

// Handle отправленная на выполнение задача. Done не блокирует;
// Result вызывается только после Done.
type Handle interface {
	Done() bool
	Result() (aperture.Result, error)
}

// Executor среда выполнения задач стадий вне потока планировщика
type Executor interface {
	Submit(task func() aperture.Result) Handle
	Running() int64
	Stop()
}

// PoolExecutor пул воркеров на pond. Ноль воркеров снимает ограничение
// на параллельность.
type PoolExecutor struct {
	pool pond.ResultPool[aperture.Result]
}

// NewPoolExecutor создаёт пул с заданным числом воркеров
func NewPoolExecutor(workers int) *PoolExecutor {
	if workers < 0 {
		workers = 0
	}
	return &PoolExecutor{pool: pond.NewResultPool[aperture.Result](workers)}
}

func (e *PoolExecutor) Submit(task func() aperture.Result) Handle {
	return poolHandle{res: e.pool.Submit(task)}
}

// Running количество занятых воркеров
func (e *PoolExecutor) Running() int64 {
	return e.pool.RunningWorkers()
}

// Stop дожидается уже отправленных задач
func (e *PoolExecutor) Stop() {
	e.pool.StopAndWait()
}

type poolHandle struct {
	res pond.Result[aperture.Result]
}

func (h poolHandle) Done() bool {
	select {
	case <-h.res.Done():
		return true
	default:
		return false
	}
}

// Result ошибка возвращается, если задача запаниковала внутри пула
func (h poolHandle) Result() (aperture.Result, error) {
	return h.res.Wait()
}

// InlineExecutor выполняет задачу сразу в вызывающей горутине.
// Используется инструментами без фонового пула и в тестах.
type InlineExecutor struct{}

func (InlineExecutor) Submit(task func() aperture.Result) Handle {
	return inlineHandle{res: task()}
}

func (InlineExecutor) Running() int64 { return 0 }

func (InlineExecutor) Stop() {}

type inlineHandle struct {
	res aperture.Result
}

func (h inlineHandle) Done() bool { return true }

func (h inlineHandle) Result() (aperture.Result, error) { return h.res, nil }

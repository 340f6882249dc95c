package processor

import (
	"context"
	"time"
)

// Work — объём работы, видимый экземпляру перед проходом.
type Work struct {
	Runnable  int // задачи, готовые к захвату
	Buildable int // flow, ожидающие построения
	Results   int // итоги в очереди result
	Queued    int // задачи в очереди processor
}

// Total возвращает объём работы, который может выполнить экземпляр.
func (w Work) Total() int {
	return w.Runnable + w.Buildable + w.Results + w.Queued
}

// PassStats — итог одного прохода.
type PassStats struct {
	Results     int
	Built       int
	Distributed int
	Executed    int
}

// Total возвращает число обработанных записей.
func (s PassStats) Total() int {
	return s.Results + s.Built + s.Distributed + s.Executed
}

// Run выполняет цикл обработки.
//
// Без PollInterval выполняется один цикл (Drain) и Run возвращается.
// Иначе после каждого цикла следует пауза и проход обслуживания,
// пока контекст не отменён.
func (p *Processor) Run(ctx context.Context) error {
	if p.orchestrator == nil {
		return ErrNotStarted
	}

	for {
		if _, err := p.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if p.cfg.PollInterval <= 0 {
			return nil
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("processor stopped")
			return nil
		case <-timer.C:
		}

		if _, err := p.scheduler.RequestScheduledFlows(ctx); err != nil {
			p.logger.Error("maintenance failed", "error", err)
		}
	}
}

// Drain выполняет проходы, пока находится работа.
//
// Первый проход выполняется всегда. Перед каждым следующим объём
// работы пересчитывается; цикл завершается, если работы нет или
// проход ничего не обработал. Возвращает число проходов.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	if p.orchestrator == nil {
		return 0, ErrNotStarted
	}

	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return passes, err
		}

		if passes > 0 {
			work, err := p.PendingWork(ctx)
			if err != nil {
				p.logger.Error("failed to count pending work", "error", err)
				return passes, nil
			}
			if work.Total() == 0 {
				break
			}
		}

		stats, err := p.pass(ctx)
		passes++
		if err != nil {
			return passes, err
		}

		p.logger.Debug("processor pass completed",
			"pass", passes,
			"results", stats.Results,
			"built", stats.Built,
			"distributed", stats.Distributed,
			"executed", stats.Executed,
		)

		// Работа есть, но взять её не удалось (чужие захваты)
		if passes > 1 && stats.Total() == 0 {
			break
		}
	}

	p.logger.Info("processor drained", "passes", passes)
	return passes, nil
}

// pass — один проход по ролям экземпляра.
//
// Ошибки шагов логируются и не прерывают проход; прерывает только
// отмена контекста.
func (p *Processor) pass(ctx context.Context) (PassStats, error) {
	var stats PassStats
	queueMode := p.QueueMode()

	step := func(name string, dst *int, fn func(context.Context) (int, error)) error {
		n, err := fn(ctx)
		*dst += n
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("processor step failed", "step", name, "error", err)
		}
		return nil
	}

	if p.cfg.TaskMaster {
		if queueMode {
			if err := step("drain_results", &stats.Results, p.orchestrator.DrainResults); err != nil {
				return stats, err
			}
		}
		if err := step("build", &stats.Built, p.orchestrator.BuildPending); err != nil {
			return stats, err
		}
		if queueMode {
			if err := step("distribute", &stats.Distributed, p.orchestrator.Distribute); err != nil {
				return stats, err
			}
			if err := step("drain_results", &stats.Results, p.orchestrator.DrainResults); err != nil {
				return stats, err
			}
		}
	}

	if p.cfg.TaskProcessor {
		if queueMode {
			if err := step("drain_processor", &stats.Executed, p.worker.DrainProcessorQueue); err != nil {
				return stats, err
			}
		} else {
			if err := step("distribute", &stats.Executed, p.orchestrator.Distribute); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}

// PendingWork пересчитывает объём работы для ролей экземпляра.
//
// Мастер учитывает flow к построению, а в режиме очередей ещё задачи
// к раздаче и итоги. Исполнитель учитывает очередь processor или,
// в прямом режиме, задачи к захвату.
func (p *Processor) PendingWork(ctx context.Context) (Work, error) {
	var w Work
	queueMode := p.QueueMode()
	countRunnable := (p.cfg.TaskMaster && queueMode) || (p.cfg.TaskProcessor && !queueMode)

	if p.cfg.TaskMaster {
		n, err := p.cfg.FlowRepo.CountBuildable(ctx)
		if err != nil {
			return w, err
		}
		w.Buildable = n

		if queueMode {
			n, err := p.orchestrator.PendingResults(ctx)
			if err != nil {
				return w, err
			}
			w.Results = n
		}
	}

	if countRunnable {
		n, err := p.cfg.TaskRepo.CountRunnable(ctx, p.now())
		if err != nil {
			return w, err
		}
		w.Runnable = n
	}

	if p.cfg.TaskProcessor && queueMode {
		n, err := p.cfg.Transport.Count(ctx, p.cfg.Queues.Processor)
		if err != nil {
			return w, err
		}
		w.Queued = n
	}

	p.metrics.SetPendingWork("runnable", w.Runnable)
	p.metrics.SetPendingWork("buildable", w.Buildable)
	p.metrics.SetPendingWork("results", w.Results)
	p.metrics.SetPendingWork("processor_queue", w.Queued)

	return w, nil
}

// The MIT License (MIT)
//
// Copyright (c) 2019 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package iocp

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerConfig sizes a pool of pollers.
type WorkerConfig struct {
	// Workers is the number of polling goroutines; 0 means one per processor.
	Workers int
	// Batch is the PollMany capacity of each worker.
	Batch int
	// Timeout bounds each wait; 0 waits forever.
	Timeout time.Duration
	// CPUs optionally pins worker i to CPUs[i%len(CPUs)].
	CPUs []int
}

// Workers drains a completion port from a fixed set of goroutines and hands
// every completion to a handler. It does not schedule anything.
type Workers struct {
	port    *CompletionPort
	n       int
	wg      sync.WaitGroup
	handler func(OperationalResult)
	onError func(error)

	stopOnce sync.Once
}

// StartWorkers launches cfg.Workers goroutines polling port. handler runs on
// the worker that dequeued the completion. onError, when non-nil, receives
// poll failures other than timeouts and port closure; otherwise they are
// logged.
func StartWorkers(port *CompletionPort, cfg WorkerConfig, handler func(OperationalResult), onError func(error)) (*Workers, error) {
	for _, cpu := range cfg.CPUs {
		if cpu < 0 || cpu >= runtime.NumCPU() {
			return nil, ErrCPUID
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Infinite
	}

	w := &Workers{port: port, n: cfg.Workers, handler: handler, onError: onError}
	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		cpu := -1
		if len(cfg.CPUs) > 0 {
			cpu = cfg.CPUs[i%len(cfg.CPUs)]
		}
		go w.loop(i, cpu, cfg.Batch, cfg.Timeout)
	}
	port.log.WithFields(logrus.Fields{"workers": cfg.Workers, "batch": cfg.Batch}).Debug("workers started")
	return w, nil
}

func (w *Workers) loop(id, cpu, batch int, timeout time.Duration) {
	defer w.wg.Done()
	log := w.port.log.WithField("worker", id)
	if cpu >= 0 {
		if err := setAffinity(cpu); err != nil {
			log.WithError(err).WithField("cpu", cpu).Warn("set worker affinity")
		}
	}

	results := make([]OperationalResult, batch)
	for {
		n, err := w.port.PollMany(results, timeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrPortClosed):
			log.Debug("port closed, worker exits")
			return
		default:
			if w.onError != nil {
				w.onError(err)
			} else {
				log.WithError(err).Error("poll completion port")
			}
			continue
		}

		wakeups := 0
		for i := 0; i < n; i++ {
			if results[i].IsWakeup() {
				wakeups++
				continue
			}
			w.handler(results[i])
			results[i] = OperationalResult{}
		}
		if wakeups > 0 {
			// one wake-up is ours, pass the rest on to the other workers
			if wakeups > 1 {
				if err := w.port.Wakeup(wakeups - 1); err != nil {
					log.WithError(err).Debug("repost wake-ups")
				}
			}
			log.Debug("woken up, worker exits")
			return
		}
	}
}

// Stop wakes every worker and waits for all of them to return. Completions
// still queued after that stay on the port.
func (w *Workers) Stop() {
	w.stopOnce.Do(func() {
		if err := w.port.Wakeup(w.n); err != nil {
			// a closed port releases the workers by itself
			w.port.log.WithError(err).Debug("post wake-ups")
		}
		w.wg.Wait()
	})
}

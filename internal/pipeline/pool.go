package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/metrics"
)

// StartWorkers brings up the worker pool behind the event channel. One worker
// always runs; the dispatcher adds more on demand up to the cap and idle
// workers retire themselves.
func (c *Coordinator) StartWorkers(stopWorkerChan chan bool, waitGroup *sync.WaitGroup) {
	c.stopWorkerChannel = stopWorkerChan
	c.workerWaitGroup = waitGroup
	c.logger.Info("Initializing worker pool")
	go c.dispatcher()
}

func (c *Coordinator) dispatcher() {
	c.createWorker()
	c.logger.Info("Dispatcher started")
	for range c.DispatcherChannel {
		if atomic.LoadInt64(&c.currentWorkerCount) < config.MaxWorkerCount {
			c.logger.Info("Creating new worker", "WorkerCount :", atomic.LoadInt64(&c.currentWorkerCount))
			c.createWorker()
		}
	}
}

func (c *Coordinator) createWorker() {
	c.workerWaitGroup.Add(1)
	go c.worker()
	atomic.AddInt64(&c.currentWorkerCount, 1)
	metrics.IncrementActiveWorkerCount()
	c.logger.Info("Created new worker")
}

func (c *Coordinator) worker() {
	for {
		select {
		case ev := <-c.EventChannel:
			c.handle(ev)
			metrics.DecrementEventsInQueue()

		case <-c.stopWorkerChannel:
			c.removeWorker("Stop worker signal received")
			return

		case <-time.After(config.IdleWorkerTimeout):
			// retire, but never below the minimum
			if atomic.LoadInt64(&c.currentWorkerCount) > config.MinWorkerCount {
				c.removeWorker("Idle worker timeout - Removed worker")
				return
			}
		}
	}
}

func (c *Coordinator) removeWorker(reason string) {
	c.workerWaitGroup.Done()
	atomic.AddInt64(&c.currentWorkerCount, -1)
	c.logger.Info("Removed worker ", "reason", reason, "workerCount", atomic.LoadInt64(&c.currentWorkerCount))
	metrics.DecrementActiveWorkerCount()
}

// Package broker runs the summarization pipeline over a shared slot
// region: a detector claims pending requests, a worker pool runs them
// through the model, and a writer pool delivers responses back into
// their slots.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/gemma-ipc/gemmad/internal/llm"
	"github.com/gemma-ipc/gemmad/pkg/slotipc"
)

// Config tunes the pipeline.
type Config struct {
	// Workers is the number of worker goroutines. The model call is
	// serialized across workers unless EngineConcurrent is set.
	Workers int

	// Writers is the number of response writer goroutines.
	Writers int

	// PollInterval is the detector sleep between idle scans.
	PollInterval time.Duration

	// RequestTimeout is the inactivity window after which the detector
	// logs a heartbeat. It is a soft timeout: in-flight model work is
	// never aborted.
	RequestTimeout time.Duration

	// EngineConcurrent marks the engine safe for concurrent Complete
	// calls.
	EngineConcurrent bool

	// Registry receives the pipeline metrics. Nil uses the default
	// prometheus registry. Metric names are fixed, so at most one
	// Broker per process can register on any one registry; additional
	// brokers (tests mostly) must bring their own.
	Registry prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}

	if c.Writers <= 0 {
		c.Writers = 1
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 300 * time.Second
	}

	if c.Registry == nil {
		c.Registry = prometheus.DefaultRegisterer
	}

	return c
}

// item is one unit of work moving between pipeline stages.
type item struct {
	slot    int
	payload []byte
}

// Broker owns the pipeline goroutines and their queues.
type Broker struct {
	sched   *slotipc.Scheduler
	engine  llm.Engine
	cfg     Config
	metrics *metrics

	modelMu sync.Mutex

	requestQ  chan item
	responseQ chan item
}

// New builds a broker over an already created region. The scheduler
// and engine stay owned by the caller.
func New(sched *slotipc.Scheduler, engine llm.Engine, cfg Config) *Broker {
	cfg = cfg.withDefaults()

	depth := sched.Region().SlotCount()

	b := &Broker{
		sched:     sched,
		engine:    engine,
		cfg:       cfg,
		requestQ:  make(chan item, depth),
		responseQ: make(chan item, depth),
	}

	b.metrics = newMetrics(cfg.Registry, func() int { return len(b.requestQ) })

	return b
}

// Run drives the pipeline until ctx is cancelled, then drains both
// queues and returns. Slots left PROCESSING by an unfinished worker
// stay as-is; their clients time out and the next administrative reset
// reclaims them.
func (b *Broker) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"slots":   b.sched.Region().SlotCount(),
		"workers": b.cfg.Workers,
		"writers": b.cfg.Writers,
		"poll":    b.cfg.PollInterval,
	}).Info("broker started")

	var workers, writers sync.WaitGroup

	for i := 0; i < b.cfg.Workers; i++ {
		i := i

		workers.Add(1)

		go func() {
			defer workers.Done()
			b.workerLoop(ctx, i)
		}()
	}

	for i := 0; i < b.cfg.Writers; i++ {
		i := i

		writers.Add(1)

		go func() {
			defer writers.Done()
			b.writerLoop(i)
		}()
	}

	b.detectorLoop(ctx)

	close(b.requestQ)
	workers.Wait()

	close(b.responseQ)
	writers.Wait()

	log.Info("broker stopped")

	return ctx.Err()
}

// detectorLoop polls the region for pending requests and feeds the
// request queue. It is the only claimer, so slot order stays fair.
func (b *Broker) detectorLoop(ctx context.Context) {
	lastActivity := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claim, err := b.sched.ClaimRequest()

		switch {
		case err == nil:
			b.metrics.requestsDetected.Inc()
			lastActivity = time.Now()

			log.WithFields(log.Fields{
				"slot":       claim.Slot,
				"request_id": claim.RequestID,
				"bytes":      len(claim.Payload),
			}).Info("request detected")

			select {
			case b.requestQ <- item{slot: claim.Slot, payload: claim.Payload}:
			case <-ctx.Done():
				// Never processed; do not leave the slot PROCESSING.
				_ = b.sched.MarkError(claim.Slot)

				return
			}

			continue

		case errors.Is(err, slotipc.ErrNoSlot):
			if idle := time.Since(lastActivity); idle >= b.cfg.RequestTimeout {
				log.WithFields(log.Fields{"idle": idle.Round(time.Second)}).Info("no request activity")
				lastActivity = time.Now()
			}

		case errors.Is(err, slotipc.ErrBusy):
			log.Warn("region busy, detector backing off")

		default:
			log.WithFields(log.Fields{"error": err}).Error("claim failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// workerLoop drains the request queue. Every item produces exactly one
// response payload; failures become failure envelopes, never panics or
// dropped slots.
func (b *Broker) workerLoop(ctx context.Context, id int) {
	for it := range b.requestQ {
		started := time.Now()

		payload := b.process(ctx, it.payload)

		log.WithFields(log.Fields{
			"worker":  id,
			"slot":    it.slot,
			"elapsed": time.Since(started).Round(time.Millisecond),
		}).Info("request processed")

		b.responseQ <- item{slot: it.slot, payload: payload}
	}
}

// writerLoop delivers finished responses. Delivery failure has no
// retry policy: the slot is marked ERROR and the client observes it.
func (b *Broker) writerLoop(id int) {
	for it := range b.responseQ {
		err := b.sched.DeliverResponse(it.slot, it.payload)
		if err != nil {
			b.metrics.deliveryFailures.Inc()

			log.WithFields(log.Fields{
				"writer": id,
				"slot":   it.slot,
				"error":  err,
			}).Error("response delivery failed")

			if markErr := b.sched.MarkError(it.slot); markErr != nil {
				log.WithFields(log.Fields{"slot": it.slot, "error": markErr}).Error("marking slot ERROR failed")
			}

			continue
		}

		b.metrics.responsesWritten.Inc()

		log.WithFields(log.Fields{
			"writer": id,
			"slot":   it.slot,
			"bytes":  len(it.payload),
		}).Info("response delivered")
	}
}

// complete invokes the engine, serialized unless the engine is marked
// concurrent-safe.
func (b *Broker) complete(ctx context.Context, prompt string, opts llm.Options) (llm.Completion, error) {
	if !b.cfg.EngineConcurrent {
		b.modelMu.Lock()
		defer b.modelMu.Unlock()
	}

	b.metrics.modelCalls.Inc()

	completion, err := b.engine.Complete(ctx, prompt, opts)
	if err != nil {
		b.metrics.modelFailures.Inc()
	}

	return completion, err
}

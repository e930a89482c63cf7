package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/kafka"
	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"go.uber.org/zap"
)

// UsageSink:
// - fetches usage events published from the licenses outbox,
// - decodes them in a pool of processors, one processor per partition so
//   offsets stay in order,
// - writes them to ClickHouse in size/time-bounded batches and commits
//   the Kafka offsets (poison messages included) only after the batch landed.
type UsageSink struct {
	// Dependencies
	Consumer kafka.Fetcher
	Events   repository.CHUsageRepository
	Log      *zap.Logger

	// Behavior
	Workers   int           // number of decoding goroutines
	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewUsageSink(consumer kafka.Fetcher, events repository.CHUsageRepository, log *zap.Logger) *UsageSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageSink{
		Consumer:  consumer,
		Events:    events,
		Log:       log,
		Workers:   8,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

type sinkItem struct {
	ev  model.UsageEvent
	msg kafka.Message
	bad bool // undecodable; committed with its batch, never inserted
}

// Run starts the worker and blocks until ctx is cancelled and the last batch is flushed.
func (w *UsageSink) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Events == nil {
		return errors.New("usage-sink: consumer and events repository are required")
	}
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	ins := make([]chan kafka.Message, w.Workers)
	for i := range ins {
		ins[i] = make(chan kafka.Message, 2)
	}
	items := make(chan sinkItem, w.BatchSize*2)

	// Fetcher goroutine
	go func() {
		defer func() {
			for _, in := range ins {
				close(in)
			}
		}()
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case ins[partitionSlot(m.Partition, w.Workers)] <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Processors drain their partitions until the fetcher closes them
	var wg sync.WaitGroup
	for _, in := range ins {
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				items <- w.processOne(m)
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(items)
	}()

	w.runBatchWriter(ctx, items)
	return nil
}

// partitionSlot pins a partition to one processor.
func partitionSlot(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// processOne decodes one message. Poison messages are marked and skipped.
func (w *UsageSink) processOne(m kafka.Message) sinkItem {
	ev, err := DecodeUsageEvent(m.Value)
	if err != nil {
		metrics.UsageEventsSunkTotal.WithLabelValues("bad").Inc()
		w.Log.Warn("bad usage event",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return sinkItem{msg: m, bad: true}
	}
	return sinkItem{ev: ev, msg: m}
}

// DecodeUsageEvent accepts the event either as a JSON object or, as Debezium
// emits string payload columns, as a JSON string holding that object.
func DecodeUsageEvent(raw []byte) (model.UsageEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return model.UsageEvent{}, err
		}
		raw = []byte(inner)
	}

	var ev model.UsageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.UsageEvent{}, err
	}
	if ev.ID == "" || ev.LicenseID == "" {
		return model.UsageEvent{}, errors.New("usage event missing id or license_id")
	}
	if !ev.Kind.Valid() {
		return model.UsageEvent{}, errors.New("usage event has unknown kind " + ev.Kind.String())
	}
	return ev, nil
}

// runBatchWriter does size/time-based flushes. A failed batch is kept and
// retried on the next tick; its offsets stay uncommitted until it lands.
func (w *UsageSink) runBatchWriter(ctx context.Context, in <-chan sinkItem) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var batch []sinkItem

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}

		events := make([]model.UsageEvent, 0, len(batch))
		msgs := make([]kafka.Message, 0, len(batch))
		for _, it := range batch {
			if !it.bad {
				events = append(events, it.ev)
			}
			msgs = append(msgs, it.msg)
		}

		if len(events) > 0 {
			if err := w.Events.InsertBatch(ctx, events); err != nil {
				metrics.UsageEventsSunkTotal.WithLabelValues("failed").Add(float64(len(events)))
				w.Log.Error("usage batch insert failed", zap.Int("events", len(events)), zap.Error(err))
				return
			}
			metrics.UsageEventsSunkTotal.WithLabelValues("ok").Add(float64(len(events)))
		}

		if err := w.Consumer.Commit(ctx, msgs...); err != nil {
			// a replay repeats the same rows, which the table collapses
			w.Log.Warn("kafka commit failed", zap.Int("events", len(msgs)), zap.Error(err))
		}
		w.Log.Debug("usage batch flushed", zap.Int("events", len(events)))
		batch = batch[:0]
	}

	for {
		select {
		case it, ok := <-in:
			if !ok {
				// ctx is already done here; give the final flush its own deadline
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				flush(fctx)
				cancel()
				return
			}
			batch = append(batch, it)
			if len(batch) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

package main

import (
	"time"

	"rankviewer/ranking"
)

// Broker receives every successful feed load. It swaps the dataset on the
// controller, then forwards observations not seen before to the archive and
// ClickHouse. Downstream sinks are optional and never block a load.
type Broker struct {
	log *Logger

	ctrl    *Controller
	history *History          // optional
	store   *Storage          // optional
	chw     *ClickHouseWriter // optional
	metrics *Metrics
}

func NewBroker(ctrl *Controller, history *History, store *Storage, chw *ClickHouseWriter, m *Metrics, log *Logger) *Broker {
	return &Broker{
		log:     log,
		ctrl:    ctrl,
		history: history,
		store:   store,
		chw:     chw,
		metrics: m,
	}
}

func (b *Broker) HandleSnapshot(source string, obs []ranking.Observation, fetchedAt time.Time) error {
	if err := b.ctrl.Replace(source, obs, fetchedAt); err != nil {
		return err
	}
	if b.history == nil {
		return nil
	}

	fresh, err := b.history.Save(source, obs)
	if err != nil {
		// The view is already updated; only the downstream copies lag.
		b.metrics.HistoryFailed()
		b.log.Errorf("history save %s: %v", source, err)
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}
	b.metrics.NewObservations(len(fresh))
	b.log.Debugf("source %s: %d new observations", source, len(fresh))

	for _, o := range fresh {
		rec := newObservationRecord(source, o, fetchedAt)
		if b.chw != nil {
			if ok := b.chw.TryEnqueue(rec); !ok {
				b.metrics.CHDropped(1)
			}
		}
		if b.store != nil {
			if ok := b.store.TryEnqueue(rec); !ok {
				b.metrics.ArchiveDropped()
			}
		}
	}
	return nil
}

func (b *Broker) HandleFailure(source string, err error, at time.Time) {
	b.ctrl.Fail(source, err, at)
}

// Warm seeds sources that have no dataset yet with their recorded history,
// so views are populated before the first feed load completes.
func (b *Broker) Warm(sources []Source, at time.Time) {
	if b.history == nil {
		return
	}
	for _, src := range sources {
		if ds, err := b.ctrl.Dataset(src.Name); err != nil || ds != nil {
			continue
		}
		obs, err := b.history.Observations(src.Name)
		if err != nil {
			b.log.Warnf("warm %s: %v", src.Name, err)
			continue
		}
		if len(obs) == 0 {
			continue
		}
		if err := b.ctrl.Replace(src.Name, obs, at); err != nil {
			continue
		}
		b.log.Infof("source %s: restored %d observations from history", src.Name, len(obs))
	}
}

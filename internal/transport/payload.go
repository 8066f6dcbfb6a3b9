package transport

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/shm"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// payloadEncoder turns pipeline batches into wire frames, moving large values
// out to shared regions. Shared by both sender implementations.
type payloadEncoder struct {
	arena     *shm.Arena
	threshold int
	log       *logging.Logger
}

func newPayloadEncoder(opts Options, log *logging.Logger) *payloadEncoder {
	return &payloadEncoder{
		arena:     shm.NewArena(opts.RegionDir, log),
		threshold: opts.InlineThreshold,
		log:       log,
	}
}

// encodeBatch converts a batch to wire records. Values whose msgpack encoding
// exceeds the inline threshold are written to a shared region; the record
// then carries only the handle.
func (pe *payloadEncoder) encodeBatch(b target.Batch) ([]wire.Record, error) {
	out := make([]wire.Record, len(b))
	for i, rec := range b {
		w := wire.ToWire(rec)

		if rec.Value != nil {
			enc, err := msgpack.Marshal(rec.Value)
			if err != nil {
				// The sequencer already reduced the value to plain
				// structural form, so this indicates a defect; keep
				// the record with a placeholder rather than lose it.
				pe.log.Warn("wire encoding failed, storing placeholder",
					"symbol", rec.Target.Symbol,
					"seq_num", rec.Seq,
					"error", err.Error())
				w.Value = target.Placeholder
				w.Dtype = target.KindUnserializable.String()
			} else if len(enc) > pe.threshold {
				h, err := pe.arena.Put(enc)
				if err != nil {
					return nil, fmt.Errorf("failed to offload value at seq %d: %w", rec.Seq, err)
				}
				w.Value = nil
				w.Handle = &wire.Handle{Region: h.Region, Length: h.Length}
			}
		}
		out[i] = w
	}
	return out, nil
}

// close tears down the encoder's shared regions.
func (pe *payloadEncoder) close() error {
	return pe.arena.Close()
}

// resolveBatch converts wire records back to pipeline records, reading any
// shared-region payloads through their handles.
func resolveBatch(recs []wire.Record, regionDir string, log *logging.Logger) target.Batch {
	batch := make(target.Batch, len(recs))
	for i, w := range recs {
		rec := wire.FromWire(w)

		if w.Handle != nil {
			value, err := readRegion(regionDir, w.Handle)
			if err != nil {
				log.Warn("failed to resolve shared-region payload",
					"region", w.Handle.Region,
					"seq_num", w.Seq,
					"error", err.Error())
				rec.Value = target.Placeholder
				rec.Kind = target.KindUnserializable
			} else {
				rec.Value = value
			}
		}
		batch[i] = rec
	}
	return batch
}

func readRegion(dir string, h *wire.Handle) (any, error) {
	region, err := shm.Open(dir, target.Handle{Region: h.Region, Length: h.Length})
	if err != nil {
		return nil, err
	}
	defer region.Close()

	var value any
	if err := msgpack.Unmarshal(region.Bytes(), &value); err != nil {
		return nil, fmt.Errorf("failed to decode shared-region payload: %w", err)
	}
	return value, nil
}

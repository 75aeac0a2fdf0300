package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC)
	Epoch int64 = 1704067200000 // milliseconds

	WorkerIDBits uint8 = 10
	SequenceBits uint8 = 12

	MaxWorkerID  = -1 ^ (-1 << WorkerIDBits)
	sequenceMask = -1 ^ (-1 << SequenceBits)

	workerIDShift  = SequenceBits
	timestampShift = SequenceBits + WorkerIDBits
)

var (
	ErrInvalidWorkerID     = errors.New("worker ID exceeds maximum value")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator hands out 63-bit ids ordered by creation time: 41 bits of
// milliseconds since Epoch, 10 bits of worker id, 12 bits of sequence.
type Generator struct {
	mu sync.Mutex

	workerID int64
	now      func() time.Time

	sequence      int64
	lastTimestamp int64
}

// NewGenerator creates a generator for the given worker.
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID, now: time.Now}, nil
}

// NextID generates the next unique ID.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.millis()
	if timestamp < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		// sequence exhausted for this millisecond
		if g.sequence == 0 {
			for timestamp <= g.lastTimestamp {
				timestamp = g.millis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return (timestamp-Epoch)<<timestampShift | g.workerID<<workerIDShift | g.sequence, nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// Parse splits an id into its creation time, worker id and sequence.
func Parse(id int64) (createdAt time.Time, workerID int64, sequence int64) {
	createdAt = time.UnixMilli(id>>timestampShift + Epoch)
	workerID = (id >> workerIDShift) & MaxWorkerID
	sequence = id & sequenceMask
	return
}

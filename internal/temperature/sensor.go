package temperature

import (
	"context"
	"encoding/hex"
	"time"
)

// MaxNameLen is the longest friendly name a sensor accepts.
const MaxNameLen = 19

// Address is a one-wire ROM code: family code first, CRC last.
type Address [8]byte

// Key returns the short sensor key: the trailing five ROM bytes in hex.
// It is ten characters, short enough for a key-value store key.
func (a Address) Key() string {
	return hex.EncodeToString(a[3:8])
}

// String returns the full ROM code in hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bus is the capability the sequencer needs from the sensor bus.
type Bus interface {
	// Search returns the addresses of the sensors currently answering.
	Search(ctx context.Context) ([]Address, error)

	// Convert starts a conversion on every sensor and waits for it.
	Convert(ctx context.Context) error

	// Read returns the last converted value of one sensor in celsius.
	Read(ctx context.Context, addr Address) (float64, error)
}

// NameStore persists friendly names by sensor key.
type NameStore interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
}

// Sensor is a copy of one registry record.
type Sensor struct {
	Index       int       `json:"index"`
	Address     string    `json:"address"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Prev        float64   `json:"prev"`
	LastValid   float64   `json:"last_valid"`
	LastValidAt time.Time `json:"last_valid_at"`
	PrevSentAt  time.Time `json:"prev_sent_at"`
	Err         bool      `json:"err"`
}

// sensor is the registry record.
type sensor struct {
	addr        Address
	key         string
	name        string
	prev        float64
	lastValid   float64
	lastValidAt time.Time
	prevSentAt  time.Time
	err         bool
}

func (s *sensor) snapshot(index int) Sensor {
	return Sensor{
		Index:       index,
		Address:     s.addr.String(),
		Key:         s.key,
		Name:        s.name,
		Prev:        s.prev,
		LastValid:   s.lastValid,
		LastValidAt: s.lastValidAt,
		PrevSentAt:  s.prevSentAt,
		Err:         s.err,
	}
}

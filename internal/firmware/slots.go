package firmware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nerrad567/homeapp-node/internal/ota"
)

// SlotState is the bookkeeping state of one image slot.
type SlotState string

const (
	SlotEmpty         SlotState = "empty"
	SlotValid         SlotState = "valid"
	SlotPendingVerify SlotState = "pending_verify"
	SlotInvalid       SlotState = "invalid"
)

const otadataFile = "otadata.json"

var slotFiles = [2]string{"slot-a.bin", "slot-b.bin"}

// SlotInfo describes one slot in otadata.json.
type SlotInfo struct {
	State   SlotState `json:"state"`
	Version string    `json:"version,omitempty"`

	// Booted is set on the first start of a pending image. A pending image
	// found with Booted already set was never confirmed and is rolled back.
	Booted bool `json:"booted,omitempty"`
}

type otadata struct {
	Boot  int         `json:"boot"`
	Slots [2]SlotInfo `json:"slots"`
}

// Slots manages the A/B image slots in a directory.
//
// Slot 0 starts out as the factory slot: while it holds no image file the
// running descriptor is the one compiled into the binary.
type Slots struct {
	dir      string
	factory  ota.Descriptor
	mu       sync.Mutex
	data     otadata
	rollback bool
}

// OpenSlots loads or initialises the slot directory and applies the
// boot-time rollback rule: a pending image that already booted once
// without being confirmed is marked invalid and the other slot becomes
// the boot slot.
func OpenSlots(dir string, factory ota.Descriptor) (*Slots, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating slot directory: %w", err)
	}
	s := &Slots{
		dir:     dir,
		factory: factory,
		data: otadata{Slots: [2]SlotInfo{
			{State: SlotValid, Version: factory.VersionString()},
			{State: SlotEmpty},
		}},
	}

	raw, err := os.ReadFile(filepath.Join(dir, otadataFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading otadata: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parsing otadata: %w", err)
		}
		if s.data.Boot != 0 && s.data.Boot != 1 {
			return nil, fmt.Errorf("parsing otadata: boot slot %d out of range", s.data.Boot)
		}
	}

	boot := &s.data.Slots[s.data.Boot]
	if boot.State == SlotPendingVerify {
		if boot.Booted {
			boot.State = SlotInvalid
			boot.Booted = false
			s.data.Boot = 1 - s.data.Boot
			s.rollback = true
		} else {
			boot.Booted = true
		}
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// RolledBack reports whether OpenSlots rolled back an unconfirmed image.
func (s *Slots) RolledBack() bool { return s.rollback }

// Dir returns the slot directory.
func (s *Slots) Dir() string { return s.dir }

// BootSlot returns the index of the slot that boots next.
func (s *Slots) BootSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Boot
}

// Info returns a copy of the bookkeeping for both slots.
func (s *Slots) Info() [2]SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Slots
}

// Path returns the image file of slot i.
func (s *Slots) Path(i int) string {
	return filepath.Join(s.dir, slotFiles[i])
}

// Running implements ota.Partitions.
func (s *Slots) Running() (ota.Descriptor, error) {
	s.mu.Lock()
	boot := s.data.Boot
	s.mu.Unlock()

	f, err := os.Open(s.Path(boot))
	if errors.Is(err, fs.ErrNotExist) {
		if boot == 0 {
			return s.factory, nil
		}
		return ota.Descriptor{}, fmt.Errorf("%w: slot %d", ErrNoImage, boot)
	}
	if err != nil {
		return ota.Descriptor{}, fmt.Errorf("opening boot slot: %w", err)
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return ota.Descriptor{}, fmt.Errorf("reading boot slot %d: %w", boot, err)
	}
	return h.Descriptor(), nil
}

// RunningPendingVerify implements ota.Partitions.
func (s *Slots) RunningPendingVerify() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Slots[s.data.Boot].State == SlotPendingVerify, nil
}

// MarkRunningValid implements ota.Partitions.
func (s *Slots) MarkRunningValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boot := &s.data.Slots[s.data.Boot]
	boot.State = SlotValid
	boot.Booted = false
	return s.saveLocked()
}

// createIncoming opens a temporary file for an image being downloaded.
func (s *Slots) createIncoming() (*os.File, error) {
	f, err := os.CreateTemp(s.dir, ".incoming-*.bin")
	if err != nil {
		return nil, fmt.Errorf("creating incoming image: %w", err)
	}
	return f, nil
}

// install moves a verified image into the inactive slot and makes it the
// pending boot slot. It returns the slot index.
func (s *Slots) install(path string, h Header) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := 1 - s.data.Boot
	if err := os.Rename(path, s.Path(target)); err != nil {
		return 0, fmt.Errorf("installing image into slot %d: %w", target, err)
	}

	prev := s.data
	s.data.Slots[target] = SlotInfo{
		State:   SlotPendingVerify,
		Version: h.Descriptor().VersionString(),
	}
	s.data.Boot = target
	if err := s.saveLocked(); err != nil {
		s.data = prev
		return 0, err
	}
	return target, nil
}

func (s *Slots) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes otadata.json through a temporary file and rename.
func (s *Slots) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding otadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, otadataFile), raw)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".otadata-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ ota.Partitions = (*Slots)(nil)

package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/homeapp-node/internal/ota"
)

var factory = ota.NewDescriptor("homeapp", "1.0.0")

func openSlots(t *testing.T, dir string) *Slots {
	t.Helper()
	s, err := OpenSlots(dir, factory)
	if err != nil {
		t.Fatalf("OpenSlots() error = %v", err)
	}
	return s
}

// installImage writes an image for version into a temporary file and
// installs it into the inactive slot.
func installImage(t *testing.T, s *Slots, version string) int {
	t.Helper()
	payload := []byte("firmware " + version)
	f, err := s.createIncoming()
	if err != nil {
		t.Fatalf("createIncoming() error = %v", err)
	}
	if _, err := f.Write(BuildImage("homeapp", version, payload)); err != nil {
		t.Fatalf("write image: %v", err)
	}
	f.Close()

	slot, err := s.install(f.Name(), NewHeader("homeapp", version, payload))
	if err != nil {
		t.Fatalf("install() error = %v", err)
	}
	return slot
}

func TestSlots_Fresh(t *testing.T) {
	dir := t.TempDir()
	s := openSlots(t, dir)

	d, err := s.Running()
	if err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if d != factory {
		t.Errorf("Running() = %q, want factory descriptor", d.VersionString())
	}
	if pending, _ := s.RunningPendingVerify(); pending {
		t.Error("RunningPendingVerify() = true on a fresh directory")
	}
	info := s.Info()
	if info[0].State != SlotValid || info[1].State != SlotEmpty {
		t.Errorf("Info() = %+v", info)
	}
	if _, err := os.Stat(filepath.Join(dir, otadataFile)); err != nil {
		t.Errorf("otadata not written: %v", err)
	}
}

func TestSlots_InstallSwitchesBootSlot(t *testing.T) {
	s := openSlots(t, t.TempDir())

	if slot := installImage(t, s, "2.0.0"); slot != 1 {
		t.Fatalf("install() slot = %d, want 1", slot)
	}
	if s.BootSlot() != 1 {
		t.Errorf("BootSlot() = %d, want 1", s.BootSlot())
	}
	d, err := s.Running()
	if err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if d.VersionString() != "2.0.0" {
		t.Errorf("Running() version = %q, want 2.0.0", d.VersionString())
	}
	if pending, _ := s.RunningPendingVerify(); !pending {
		t.Error("RunningPendingVerify() = false after install")
	}
}

func TestSlots_UnconfirmedImageRollsBack(t *testing.T) {
	dir := t.TempDir()
	installImage(t, openSlots(t, dir), "2.0.0")

	// First start of the new image.
	s := openSlots(t, dir)
	if s.RolledBack() {
		t.Fatal("RolledBack() = true on first start")
	}
	if s.BootSlot() != 1 {
		t.Fatalf("BootSlot() = %d, want 1", s.BootSlot())
	}

	// Second start without confirmation.
	s = openSlots(t, dir)
	if !s.RolledBack() {
		t.Fatal("RolledBack() = false, want rollback")
	}
	if s.BootSlot() != 0 {
		t.Errorf("BootSlot() = %d, want 0", s.BootSlot())
	}
	if got := s.Info()[1].State; got != SlotInvalid {
		t.Errorf("slot 1 state = %s, want invalid", got)
	}
	d, _ := s.Running()
	if d != factory {
		t.Errorf("Running() = %q after rollback, want factory", d.VersionString())
	}
}

func TestSlots_ConfirmedImageStays(t *testing.T) {
	dir := t.TempDir()
	installImage(t, openSlots(t, dir), "2.0.0")

	s := openSlots(t, dir)
	if err := s.MarkRunningValid(); err != nil {
		t.Fatalf("MarkRunningValid() error = %v", err)
	}

	s = openSlots(t, dir)
	if s.RolledBack() {
		t.Error("RolledBack() = true for a confirmed image")
	}
	if s.BootSlot() != 1 || s.Info()[1].State != SlotValid {
		t.Errorf("boot = %d, info = %+v", s.BootSlot(), s.Info())
	}

	// The next install goes to the other slot.
	if slot := installImage(t, s, "3.0.0"); slot != 0 {
		t.Errorf("install() slot = %d, want 0", slot)
	}
}

func TestOpenSlots_CorruptOtadata(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, otadataFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSlots(dir, factory); err == nil {
		t.Error("OpenSlots() error = nil, want parse error")
	}

	if err := os.WriteFile(filepath.Join(dir, otadataFile), []byte(`{"boot":7}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSlots(dir, factory); err == nil {
		t.Error("OpenSlots() error = nil, want range error")
	}
}

package kernel

import (
	"testing"

	"kmazarin/internal/dtb/dtbtest"
	"kmazarin/internal/pagetable/arm64"
	"kmazarin/internal/pagetable/pagetabletest"
)

func buildTestDTB() []byte {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 1)

	b.BeginNode("memory@0")
	b.PropString("device_type", "memory")
	b.Prop("reg", dtbtest.BECells(0x40000000, 0x3c000000))
	b.EndNode()

	b.BeginNode("soc")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 1)
	b.Prop("ranges", dtbtest.BECells(0x7e000000, 0x3f000000, 0x01000000))
	b.EndNode()

	b.BeginNode("cpus")
	b.BeginNode("cpu@0")
	b.PropString("enable-method", "spin-table")
	b.Prop("cpu-release-addr", dtbtest.BECells64(0xd8))
	b.PropU32("reg", 0)
	b.EndNode()
	b.EndNode()

	b.EndNode()
	return b.Finish()
}

func TestInitWiresComponentsTogether(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	blob := buildTestDTB()
	mem := pagetabletest.New(16 << 20)
	cfg := Config{
		VirtualBase:      0xffff000000000000,
		PageSize:         4096,
		KernelBase:       0,
		KernelSize:       0x100000,
		KernelPagesStart: 0x100000,
		KernelPagesSize:  0x100000,
	}

	s, err := Init(cfg, blob, arm64.Arch{}, mem)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	wantPeripheralBase := cfg.VirtualBase + 0x7e000000
	if s.PeripheralBase != wantPeripheralBase {
		t.Errorf("PeripheralBase = %#x, want %#x", s.PeripheralBase, wantPeripheralBase)
	}
	if len(s.Cores) != 1 {
		t.Fatalf("len(Cores) = %d, want 1", len(s.Cores))
	}

	foundAllocator := false
	for _, a := range s.Allocators {
		if a != nil {
			foundAllocator = true
			if _, ok := a.Allocate(0); !ok {
				t.Errorf("allocator for range base %#x failed to allocate a single page", a.BaseAddr())
			}
		}
	}
	if !foundAllocator {
		t.Fatalf("Init produced no page allocators for the scanned memory range")
	}
}

func TestInitRejectsSecondCall(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	blob := buildTestDTB()
	mem := pagetabletest.New(16 << 20)
	cfg := Config{
		VirtualBase:      0xffff000000000000,
		PageSize:         4096,
		KernelBase:       0,
		KernelSize:       0x100000,
		KernelPagesStart: 0x100000,
		KernelPagesSize:  0x100000,
	}

	if _, err := Init(cfg, blob, arm64.Arch{}, mem); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(cfg, blob, arm64.Arch{}, mem); err != ErrAlreadyInitialized {
		t.Errorf("second Init = %v, want ErrAlreadyInitialized", err)
	}
}

func TestSchedulerParksOnce(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	blob := buildTestDTB()
	mem := pagetabletest.New(16 << 20)
	cfg := Config{
		VirtualBase:      0xffff000000000000,
		PageSize:         4096,
		KernelBase:       0,
		KernelSize:       0x100000,
		KernelPagesStart: 0x100000,
		KernelPagesSize:  0x100000,
	}

	s, err := Init(cfg, blob, arm64.Arch{}, mem)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	s.PostInit()
	if err := Scheduler(s); err != nil {
		t.Errorf("Scheduler: %v", err)
	}
}

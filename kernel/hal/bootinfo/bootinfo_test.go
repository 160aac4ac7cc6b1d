package bootinfo

import "testing"

func TestVisitMemRegions(t *testing.T) {
	defer Set(nil, 0)

	regions := []MemoryRegion{
		{Start: 0, End: 0x9fc00, Kind: KindUsable},
		{Start: 0x9fc00, End: 0x100000, Kind: KindReserved},
		{Start: 0x100000, End: 0x900000, Kind: KindUsable},
	}
	Set(regions, 0xffff800000000000)

	var visited int
	VisitMemRegions(func(region *MemoryRegion) bool {
		if exp := regions[visited]; *region != exp {
			t.Errorf("[region %d] expected %v; got %v", visited, exp, *region)
		}
		visited++
		return true
	})

	if visited != len(regions) {
		t.Fatalf("expected visitor to be invoked %d times; got %d", len(regions), visited)
	}

	// An aborting visitor stops the scan
	visited = 0
	VisitMemRegions(func(*MemoryRegion) bool {
		visited++
		return false
	})

	if visited != 1 {
		t.Fatalf("expected aborting visitor to be invoked once; got %d", visited)
	}
}

func TestRegionSize(t *testing.T) {
	region := MemoryRegion{Start: 0x100000, End: 0x900000, Kind: KindUsable}
	if exp, got := uint64(0x800000), region.Size(); got != exp {
		t.Fatalf("expected region size 0x%x; got 0x%x", exp, got)
	}
}

func TestPhysToVirt(t *testing.T) {
	defer Set(nil, 0)

	Set(nil, 0xffff800000000000)

	if exp, got := uintptr(0xffff800000001000), PhysToVirt(0x1000); got != exp {
		t.Fatalf("expected PhysToVirt to return 0x%x; got 0x%x", exp, got)
	}

	if exp, got := uintptr(0xffff800000000000), PhysMemOffset(); got != exp {
		t.Fatalf("expected PhysMemOffset to return 0x%x; got 0x%x", exp, got)
	}
}

func TestRegionKindString(t *testing.T) {
	specs := []struct {
		kind RegionKind
		exp  string
	}{
		{KindUsable, "usable"},
		{KindReserved, "reserved"},
		{KindACPIReclaimable, "ACPI (reclaimable)"},
		{KindNVS, "NVS"},
		{KindBadRAM, "bad RAM"},
		{RegionKind(0xff), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.kind.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

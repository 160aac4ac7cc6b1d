// Package bootinfo captures the contract between the bootloader and the
// kernel: an ordered list of physical memory regions plus the offset at
// which the bootloader mapped all physical memory into the virtual address
// space. Both are supplied exactly once at kernel entry and are immutable
// afterwards.
package bootinfo

// RegionKind describes the type of a boot-reported memory region.
type RegionKind uint32

const (
	// KindUsable indicates that the memory region is available for use.
	KindUsable RegionKind = iota + 1

	// KindReserved indicates that the memory region must not be touched.
	KindReserved

	// KindACPIReclaimable indicates a region holding ACPI tables that can
	// be reused once the tables have been parsed.
	KindACPIReclaimable

	// KindNVS indicates memory that must be preserved when hibernating.
	KindNVS

	// KindBadRAM indicates a region reported as defective.
	KindBadRAM
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case KindUsable:
		return "usable"
	case KindReserved:
		return "reserved"
	case KindACPIReclaimable:
		return "ACPI (reclaimable)"
	case KindNVS:
		return "NVS"
	case KindBadRAM:
		return "bad RAM"
	default:
		return "unknown"
	}
}

// MemoryRegion describes a physical memory span reported by the bootloader.
// The span covers [Start, End).
type MemoryRegion struct {
	// The physical address where this memory region starts.
	Start uint64

	// The physical address where this memory region ends (exclusive).
	End uint64

	// The type of this region.
	Kind RegionKind
}

// Size returns the region length in bytes.
func (r *MemoryRegion) Size() uint64 {
	return r.End - r.Start
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the bootloader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(region *MemoryRegion) bool

var (
	memRegions []MemoryRegion

	physMemOffset uintptr
)

// Set records the boot-supplied memory map and physical memory offset. It
// must be invoked exactly once by the boot sequence before any other
// function exported by this package.
func Set(regions []MemoryRegion, offset uintptr) {
	memRegions = regions
	physMemOffset = offset
}

// MemRegions returns the ordered list of boot-reported memory regions.
func MemRegions() []MemoryRegion {
	return memRegions
}

// VisitMemRegions invokes the supplied visitor for each memory region that
// was reported by the bootloader, in boot order.
func VisitMemRegions(visitor MemRegionVisitor) {
	for i := range memRegions {
		if !visitor(&memRegions[i]) {
			return
		}
	}
}

// PhysMemOffset returns the virtual address offset at which the bootloader
// mapped the whole of physical memory.
func PhysMemOffset() uintptr {
	return physMemOffset
}

// PhysToVirt returns the virtual address that aliases the supplied physical
// address through the bootloader's full physical memory mapping. The lookup
// never fails for addresses inside the offset-mapped region.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + physMemOffset
}

// Package pmm implements the physical frame allocator. The allocator is a
// pure bump allocator over the boot-supplied memory map: a cursor advances
// through the reported regions, skipping non-usable regions and any frame
// inside the reserved physical interval. Allocated frames are never returned
// to the pool.
package pmm

import (
	"vesper/kernel"
	"vesper/kernel/hal/bootinfo"
	"vesper/kernel/kfmt"
	"vesper/kernel/mm"
	"vesper/kernel/sync"
)

var (
	// allocator is the frame allocator instance that Init registers as the
	// system-wide frame source.
	allocator FrameAllocator

	// ErrOutOfMemory is returned when the boot memory map has been fully
	// consumed and no more frames can be handed out.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errNoSuitableRegion = &kernel.Error{Module: "pmm", Message: "no usable frame-aligned region large enough for the requested reservation"}
)

// FrameAllocator hands out frames from the boot memory map. It maintains a
// cursor consisting of the current region index and a frame offset within
// that region; the cursor only ever moves forward. Frames that fall inside
// the reserved interval are skipped without aborting the scan.
type FrameAllocator struct {
	mutex sync.Spinlock

	regionIndex int
	frameOffset uintptr

	// reservedStart and reservedEnd delimit the [start, end) physical
	// interval that must never be handed out as a frame.
	reservedStart uintptr
	reservedEnd   uintptr

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// AllocFrame reserves and returns the next available free frame. An error is
// returned if no more memory can be allocated.
func (alloc *FrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	frame, err := alloc.allocFrame()
	alloc.mutex.Release()
	return frame, err
}

func (alloc *FrameAllocator) allocFrame() (mm.Frame, *kernel.Error) {
	regions := bootinfo.MemRegions()

	for alloc.regionIndex < len(regions) {
		region := &regions[alloc.regionIndex]
		if region.Kind != bootinfo.KindUsable {
			alloc.nextRegion()
			continue
		}

		// Reported region starts may not be frame-aligned; round up to
		// get the first candidate frame address.
		regionStart := (uintptr(region.Start) + mm.PageSize - 1) &^ uintptr(mm.PageSize-1)
		candidate := regionStart + alloc.frameOffset<<mm.PageShift
		if candidate+mm.PageSize > uintptr(region.End) {
			alloc.nextRegion()
			continue
		}

		alloc.frameOffset++

		// Candidates inside the reserved interval are skipped; the
		// offset keeps advancing so the scan resumes past them.
		if candidate >= alloc.reservedStart && candidate < alloc.reservedEnd {
			continue
		}

		alloc.allocCount++
		return mm.FrameFromAddress(candidate), nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

func (alloc *FrameAllocator) nextRegion() {
	alloc.regionIndex++
	alloc.frameOffset = 0
}

// reserve scans the memory map for the first usable region whose start is
// frame-aligned and whose size can fit the requested reservation and records
// it as the excluded interval.
func (alloc *FrameAllocator) reserve(size mm.Size) *kernel.Error {
	var found bool

	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryRegion) bool {
		if region.Kind != bootinfo.KindUsable ||
			region.Size() < uint64(size) ||
			uintptr(region.Start)&(mm.PageSize-1) != 0 {
			return true
		}

		alloc.reservedStart = uintptr(region.Start)
		alloc.reservedEnd = alloc.reservedStart + uintptr(size)
		found = true
		return false
	})

	if !found {
		return errNoSuitableRegion
	}

	return nil
}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *FrameAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End, region.Size(), region.Kind.String())

		if region.Kind == bootinfo.KindUsable {
			totalFree += mm.Size(region.Size())
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}

// Init sets up the kernel physical memory allocation sub-system. It carves
// a physically contiguous interval of the requested size out of the boot
// memory map and registers the frame allocator as the system frame source.
// The absence of a usable frame-aligned region large enough to back the
// reservation is a fatal boot condition.
func Init(reserve mm.Size) *kernel.Error {
	allocator.printMemoryMap()

	if err := allocator.reserve(reserve); err != nil {
		return err
	}

	kfmt.Printf("[pmm] reserved region: [0x%10x - 0x%10x)\n", allocator.reservedStart, allocator.reservedEnd)
	mm.SetFrameAllocator(sysAllocFrame)

	return nil
}

func sysAllocFrame() (mm.Frame, *kernel.Error) {
	return allocator.AllocFrame()
}

// ReservedRegion returns the physical interval excluded from general frame
// allocation. It is valid after a successful call to Init.
func ReservedRegion() (start uintptr, size mm.Size) {
	return allocator.reservedStart, mm.Size(allocator.reservedEnd - allocator.reservedStart)
}

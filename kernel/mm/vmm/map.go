// Package vmm implements the virtual page mapper: it installs and removes
// virtual-to-physical mappings on the currently active page tables and
// provides the 1:1 contiguous-region aliasing path used for MMIO and the
// framebuffer DMA window.
package vmm

import (
	"unsafe"

	"vesper/kernel"
	"vesper/kernel/cpu"
	"vesper/kernel/kfmt"
	"vesper/kernel/mm"
)

var (
	// nextAddrFn is used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errNotFrameAligned   = &kernel.Error{Module: "vmm", Message: "physical and virtual addresses must be frame-aligned"}
)

// Map establishes a mapping between a virtual page and a physical memory
// frame using the currently active page tables. Calls to Map will use the
// registered physical frame allocator to initialize missing page tables at
// each paging level supported by the MMU.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place, flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; allocate a physical frame
		// for it, map it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			// The next pte entry becomes available but we need to
			// make sure that the new page is properly cleared
			nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
			kernel.Memset(nextAddrFn(nextTableAddr), 0, mm.PageSize)
		}

		return true
	})

	return err
}

// MapRange establishes mappings for the inclusive page range that covers
// [virtStart, virtStart+size), allocating a fresh physical frame for each
// page in the range. MapRange fails on the first page that cannot be mapped
// or once the frame pool is exhausted, logging the address of the failing
// page; pages mapped before the failure are not rolled back.
func MapRange(virtStart, size uintptr, flags PageTableEntryFlag) *kernel.Error {
	if size == 0 {
		return nil
	}

	firstPage := mm.PageFromAddress(virtStart)
	lastPage := mm.PageFromAddress(virtStart + size - 1)

	for page := firstPage; page <= lastPage; page++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			kfmt.Printf("[vmm] out of frames while mapping page 0x%16x\n", page.Address())
			return err
		}

		if err = mapFn(page, frame, flags); err != nil {
			kfmt.Printf("[vmm] unable to map page 0x%16x\n", page.Address())
			return err
		}
	}

	return nil
}

// UnmapRange removes the mappings for the inclusive page range that covers
// [virtStart, virtStart+size). The removal is best-effort: pages in the
// range that are not currently mapped are silently skipped.
func UnmapRange(virtStart, size uintptr) {
	if size == 0 {
		return
	}

	firstPage := mm.PageFromAddress(virtStart)
	lastPage := mm.PageFromAddress(virtStart + size - 1)

	for page := firstPage; page <= lastPage; page++ {
		_ = unmapFn(page)
	}
}

// MapContiguousRegion establishes a 1:1 mapping of the physically contiguous
// region [physStart, physStart+size) onto the virtual region beginning at
// virtStart. Both addresses must be frame-aligned. The physical side is
// expected to be already owned by the caller (an MMIO block or the reserved
// framebuffer window) so no frames are requested from the frame allocator.
// Caching is disabled for every page in the region and the mappings are
// flagged global with no user-mode access.
func MapContiguousRegion(physStart, virtStart, size uintptr) *kernel.Error {
	if physStart&(mm.PageSize-1) != 0 || virtStart&(mm.PageSize-1) != 0 {
		return errNotFrameAligned
	}

	var (
		pageCount = (size + mm.PageSize - 1) >> mm.PageShift
		page      = mm.PageFromAddress(virtStart)
		frame     = mm.FrameFromAddress(physStart)
		flags     = FlagPresent | FlagRW | FlagDoNotCache | FlagAccessed | FlagGlobal
	)

	for index := uintptr(0); index < pageCount; index, page, frame = index+1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes a mapping previously installed via a call to Map.
func Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	// The physical address is the frame address plus the offset encoded
	// in the virtual address
	physAddr := pte.Frame().Address() + PageOffset(virtAddr)
	return physAddr, nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & (mm.PageSize - 1))
}

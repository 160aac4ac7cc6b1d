package dma

import (
	"vesper/kernel"
	"vesper/kernel/mm"
	"vesper/kernel/mm/vmm"
)

const (
	// FramebufferSize is the fixed size of the physical interval reserved
	// at boot for the display framebuffer.
	FramebufferSize = 8 * mm.Mb

	// WindowVirtBase is the fixed virtual base onto which the reserved
	// interval is aliased by MapWindow.
	WindowVirtBase = uintptr(0xffffff0000000000)
)

// mapContiguousRegionFn is used by tests to override the page mapper call
// which requires an active page table.
var mapContiguousRegionFn = vmm.MapContiguousRegion

// Window describes the pre-mapped framebuffer DMA region. It is created
// once at boot and never torn down; DMAAlloc hands it out to the first
// sufficiently large request and later requests fall through to the
// contiguous buffer allocator.
type Window struct {
	// PhysBase is the start of the reserved physical interval.
	PhysBase uintptr

	// VirtBase is the fixed virtual address the interval is mapped at.
	VirtBase uintptr

	// Size is the window length in bytes.
	Size uintptr
}

// MapWindow aliases the reserved physical interval [physStart,
// physStart+size) onto the fixed virtual window base with caching disabled
// and returns the resulting window descriptor. It is called once at boot
// after the frame allocator has carved out its reservation.
func MapWindow(physStart uintptr, size mm.Size) (Window, *kernel.Error) {
	if err := mapContiguousRegionFn(physStart, WindowVirtBase, uintptr(size)); err != nil {
		return Window{}, err
	}

	return Window{
		PhysBase: physStart,
		VirtBase: WindowVirtBase,
		Size:     uintptr(size),
	}, nil
}

package dma

import (
	"vesper/kernel"
	"vesper/kernel/hal/bootinfo"
	"vesper/kernel/mm"
	"vesper/kernel/sync"
)

// windowClaimThreshold is the request size above which DMAAlloc considers
// handing out the pre-mapped framebuffer window instead of allocating a
// fresh buffer.
const windowClaimThreshold = uintptr(1 * mm.Mb)

// ErrUnknownBuffer is returned by DMAFree when the supplied virtual address
// does not correspond to a buffer issued by this adapter.
var ErrUnknownBuffer = &kernel.Error{Module: "dma", Message: "address does not match an issued DMA buffer"}

// Adapter is the device-facing DMA allocation facade. Large one-time
// requests are satisfied from the pre-mapped framebuffer window; everything
// else is backed by freshly allocated contiguous buffers tracked in a table
// keyed by their virtual base address.
type Adapter struct {
	mutex sync.Spinlock

	window        Window
	windowClaimed bool

	buffers map[uintptr]*ContiguousBuffer
}

// NewAdapter returns an adapter that serves DMA requests against the
// supplied pre-mapped window.
func NewAdapter(window Window) *Adapter {
	return &Adapter{
		window:  window,
		buffers: make(map[uintptr]*ContiguousBuffer),
	}
}

// DMAAlloc allocates pageCount physically contiguous frames for device use
// and returns their physical and virtual base addresses. A request larger
// than the claim threshold that fits in the unclaimed window claims it and
// receives the window's fixed addresses; the claim is one-shot and later
// large requests fall through to the contiguous buffer allocator.
func (hal *Adapter) DMAAlloc(pageCount uint, _ BufferDirection) (physAddr, virtAddr uintptr, err *kernel.Error) {
	size := uintptr(pageCount) << mm.PageShift

	hal.mutex.Acquire()
	if size > windowClaimThreshold && !hal.windowClaimed && size <= hal.window.Size {
		hal.windowClaimed = true
		hal.mutex.Release()
		return hal.window.PhysBase, hal.window.VirtBase, nil
	}
	hal.mutex.Release()

	// The buffer allocation may itself allocate and must not run inside
	// the adapter critical section.
	buf, bufErr := NewContiguousBuffer(size)
	if bufErr != nil {
		return 0, 0, bufErr
	}

	virtAddr = buf.VirtAddr()

	hal.mutex.Acquire()
	hal.buffers[virtAddr] = buf
	hal.mutex.Release()

	return buf.Addr(), virtAddr, nil
}

// DMAFree releases an allocation previously issued by DMAAlloc. Releasing
// the window un-claims it without freeing the underlying memory, which the
// adapter does not own; the operation is idempotent. For any other address
// the matching buffer table entry is removed; an absent entry means the
// caller passed an address this adapter never issued and is reported as an
// error.
func (hal *Adapter) DMAFree(physAddr, virtAddr uintptr) *kernel.Error {
	hal.mutex.Acquire()

	if physAddr == hal.window.PhysBase {
		hal.windowClaimed = false
		hal.mutex.Release()
		return nil
	}

	if _, issued := hal.buffers[virtAddr]; !issued {
		hal.mutex.Release()
		return ErrUnknownBuffer
	}

	delete(hal.buffers, virtAddr)
	hal.mutex.Release()
	return nil
}

// MMIOPhysToVirt returns the virtual address that aliases the supplied
// MMIO physical address through the boot-supplied physical memory offset
// mapping. It never fails for addresses within the offset-mapped region.
func (hal *Adapter) MMIOPhysToVirt(physAddr uintptr) uintptr {
	return bootinfo.PhysToVirt(physAddr)
}

// Share translates a buffer's virtual address to the physical address the
// device must use to access it. No bounce buffering takes place; the
// translation comes straight from the active page tables.
func (hal *Adapter) Share(virtAddr uintptr, _ BufferDirection) (uintptr, *kernel.Error) {
	return translateFn(virtAddr)
}

// Unshare acknowledges that the device no longer accesses the buffer at the
// supplied addresses. Device access revocation is not implemented; the call
// exists so drivers can signal buffer lifetimes.
func (hal *Adapter) Unshare(physAddr, virtAddr uintptr) {
}

// Window returns the framebuffer window descriptor served by this adapter.
func (hal *Adapter) Window() Window {
	return hal.window
}

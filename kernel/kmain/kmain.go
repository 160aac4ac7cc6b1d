// Package kmain contains the kernel entry point and the boot wiring that
// brings the memory subsystem, the PCI bus and the display device up in
// order, then hands control to the interactive drawing loop.
package kmain

import (
	"vesper/device/input"
	"vesper/device/pci"
	"vesper/device/video/gpu"
	"vesper/kernel"
	"vesper/kernel/cpu"
	"vesper/kernel/hal/bootinfo"
	"vesper/kernel/kfmt"
	"vesper/kernel/mm/dma"
	"vesper/kernel/mm/pmm"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the memory map and the physical
// memory offset recovered from the bootloader handoff, plus the key-event
// queue fed by the keyboard interrupt handler.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(regions []bootinfo.MemoryRegion, physMemOffset uintptr, keys *input.Queue) {
	bootinfo.Set(regions, physMemOffset)

	// Interrupts stay masked while the allocator and mapper come up; a
	// keyboard interrupt taken here could reenter allocation paths that
	// are still being initialized outside their locks.
	cpu.DisableInterrupts()

	var err *kernel.Error
	if err = pmm.Init(dma.FramebufferSize); err != nil {
		kfmt.Panic(err)
	}

	fbStart, fbSize := pmm.ReservedRegion()
	window, err := dma.MapWindow(fbStart, fbSize)
	if err != nil {
		kfmt.Panic(err)
	}

	cpu.EnableInterrupts()

	hal := dma.NewAdapter(window)
	registry := pci.DetectDevices()

	display := gpu.Init(registry, hal)
	if display.Phase() == gpu.PhaseReady {
		runDrawLoop(display, keys)
	}

	kfmt.Panic(errKmainReturned)
}

const (
	paintColor = uint32(0xffff0000)
	clearColor = uint32(0xff000000)

	splashWidth  = uint32(64)
	splashHeight = uint32(64)
)

// canvas is the slice of the GPU device surface the drawing loop drives.
type canvas interface {
	Resolution() (width, height uint32)
	DrawSquare(x, y, color uint32) bool
	DrawImage(x, y, imgWidth, imgHeight uint32, pixels []uint32) bool
	SetPointer(image []byte, width, height, hotX, hotY uint32) bool
	MovePointer(x, y uint32) bool
	Flush() bool
}

// centeredOrigin returns the coordinate that centers an object of the given
// size inside a span, saturating at zero when the object is larger than the
// span.
func centeredOrigin(span, size uint32) uint32 {
	if span/2 < size/2 {
		return 0
	}
	return span/2 - size/2
}

// splashImage builds the test image blitted at the center of the display
// after a canvas reset: a diagonal color gradient framed by a white border.
func splashImage() []uint32 {
	pixels := make([]uint32, splashWidth*splashHeight)

	for y := uint32(0); y < splashHeight; y++ {
		for x := uint32(0); x < splashWidth; x++ {
			if x == 0 || y == 0 || x == splashWidth-1 || y == splashHeight-1 {
				pixels[y*splashWidth+x] = 0xffffffff
				continue
			}

			green := x * 0xff / splashWidth
			blue := y * 0xff / splashHeight
			pixels[y*splashWidth+x] = 0xff000000 | green<<8 | blue
		}
	}

	return pixels
}

// resetCanvas paints the whole display black one square at a time and blits
// the splash image at its center.
func resetCanvas(display canvas) {
	width, height := display.Resolution()

	for y := uint32(0); y < height; y += gpu.SquareSize {
		for x := uint32(0); x < width; x += gpu.SquareSize {
			display.DrawSquare(x, y, clearColor)
		}
	}
	display.Flush()

	display.DrawImage(
		centeredOrigin(width, splashWidth),
		centeredOrigin(height, splashHeight),
		splashWidth, splashHeight,
		splashImage(),
	)
	display.Flush()
}

// moveBrush applies one movement key to the brush position. Moves saturate
// at zero and at the last position that keeps the whole square on the
// display.
func moveBrush(char rune, x, y, width, height uint32) (uint32, uint32) {
	switch char {
	case 'w', 'W':
		if y >= gpu.SquareSize {
			y -= gpu.SquareSize
		} else {
			y = 0
		}
	case 's', 'S':
		if y+2*gpu.SquareSize <= height {
			y += gpu.SquareSize
		} else if height >= gpu.SquareSize {
			y = height - gpu.SquareSize
		}
	case 'a', 'A':
		if x >= gpu.SquareSize {
			x -= gpu.SquareSize
		} else {
			x = 0
		}
	case 'd', 'D':
		if x+2*gpu.SquareSize <= width {
			x += gpu.SquareSize
		} else if width >= gpu.SquareSize {
			x = width - gpu.SquareSize
		}
	}

	return x, y
}

// runDrawLoop resets the canvas, places the cursor on the centered brush
// square and then drives the display from decoded key events: w/a/s/d move
// the brush, c resets the canvas keeping the brush position, space resets
// the canvas and recenters the brush and q leaves the loop. The square is
// painted at the brush position and the cursor moved to its center on every
// iteration.
func runDrawLoop(display canvas, keys *input.Queue) {
	width, height := display.Resolution()
	x := centeredOrigin(width, gpu.SquareSize)
	y := centeredOrigin(height, gpu.SquareSize)

	resetCanvas(display)
	display.SetPointer(gpu.DefaultCursor(), gpu.CursorWidth, gpu.CursorHeight, gpu.CursorWidth/2, gpu.CursorHeight/2)
	display.MovePointer(x+gpu.SquareSize/2, y+gpu.SquareSize/2)
	display.Flush()

	for {
		event := keys.PopWait()

		switch event.Char {
		case 'c', 'C':
			resetCanvas(display)
		case ' ':
			resetCanvas(display)
			x = centeredOrigin(width, gpu.SquareSize)
			y = centeredOrigin(height, gpu.SquareSize)
		case 'q', 'Q':
			return
		default:
			x, y = moveBrush(event.Char, x, y, width, height)
		}

		display.DrawSquare(x, y, paintColor)
		display.MovePointer(x+gpu.SquareSize/2, y+gpu.SquareSize/2)
		display.Flush()
	}
}

package gpu

import (
	"vesper/kernel/kfmt"
)

const (
	// bytesPerPixel is the framebuffer pixel stride: blue, green, red,
	// alpha.
	bytesPerPixel = 4

	// SquareSize is the edge length in pixels of the square drawn by
	// DrawSquare.
	SquareSize = 8
)

// putPixel writes one packed 0xAARRGGBB color into the framebuffer in the
// device's blue-green-red-alpha byte order. Out-of-range coordinates are
// skipped.
func putPixel(fb []byte, width, height, x, y uint32, color uint32) {
	if x >= width || y >= height {
		return
	}

	offset := (uint64(y)*uint64(width) + uint64(x)) * bytesPerPixel
	if offset+bytesPerPixel > uint64(len(fb)) {
		return
	}

	fb[offset] = byte(color)
	fb[offset+1] = byte(color >> 8)
	fb[offset+2] = byte(color >> 16)
	fb[offset+3] = byte(color >> 24)
}

// DrawPixel writes a single pixel at (x, y). Coordinates outside the
// display are silently skipped.
func (dev *Device) DrawPixel(x, y, color uint32) bool {
	return dev.WithFramebuffer(func(fb []byte, width, height uint32) {
		putPixel(fb, width, height, x, y, color)
	})
}

// DrawSquare draws a SquareSize x SquareSize square with its top-left
// corner at (x, y). A top-left corner outside the display is rejected;
// pixels extending past the right or bottom edge are clipped.
func (dev *Device) DrawSquare(x, y, color uint32) bool {
	var inRange bool

	ok := dev.WithFramebuffer(func(fb []byte, width, height uint32) {
		if x >= width || y >= height {
			return
		}
		inRange = true

		for row := uint32(0); row < SquareSize; row++ {
			for col := uint32(0); col < SquareSize; col++ {
				putPixel(fb, width, height, x+col, y+row, color)
			}
		}
	})

	if !ok {
		return false
	}
	if !inRange {
		kfmt.Printf("[gpu] square at (%d,%d) lies outside the display\n", x, y)
		return false
	}
	return true
}

// DrawImage blits an image of packed 0xAARRGGBB pixels with its top-left
// corner at (x, y). A top-left corner outside the display is rejected; the
// source is otherwise clipped against the current resolution and rows and
// columns that fall outside the display are not written.
func (dev *Device) DrawImage(x, y, imgWidth, imgHeight uint32, pixels []uint32) bool {
	if imgWidth == 0 || imgHeight == 0 {
		kfmt.Printf("[gpu] refusing to draw a zero-sized image\n")
		return false
	}
	if uint64(len(pixels)) != uint64(imgWidth)*uint64(imgHeight) {
		kfmt.Printf("[gpu] image has %d pixels; expected %dx%d\n", len(pixels), imgWidth, imgHeight)
		return false
	}

	var inRange bool

	ok := dev.WithFramebuffer(func(fb []byte, width, height uint32) {
		if x >= width || y >= height {
			return
		}
		inRange = true

		for row := uint32(0); row < imgHeight; row++ {
			dstY := uint64(y) + uint64(row)
			if dstY >= uint64(height) {
				break
			}

			for col := uint32(0); col < imgWidth; col++ {
				dstX := uint64(x) + uint64(col)
				if dstX >= uint64(width) {
					break
				}

				putPixel(fb, width, height, uint32(dstX), uint32(dstY), pixels[row*imgWidth+col])
			}
		}
	})

	if !ok {
		return false
	}
	if !inRange {
		kfmt.Printf("[gpu] image at (%d,%d) lies outside the display\n", x, y)
		return false
	}
	return true
}

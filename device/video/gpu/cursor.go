package gpu

const (
	// CursorWidth and CursorHeight are the fixed hardware cursor plane
	// dimensions.
	CursorWidth  = 64
	CursorHeight = 64
)

// DefaultCursor returns a transparent CursorWidth x CursorHeight RGBA image
// with a white SquareSize x SquareSize block at its center.
func DefaultCursor() []byte {
	image := make([]byte, CursorWidth*CursorHeight*bytesPerPixel)

	for y := CursorHeight/2 - SquareSize/2; y < CursorHeight/2+SquareSize/2; y++ {
		for x := CursorWidth/2 - SquareSize/2; x < CursorWidth/2+SquareSize/2; x++ {
			offset := (y*CursorWidth + x) * bytesPerPixel
			image[offset] = 0xff
			image[offset+1] = 0xff
			image[offset+2] = 0xff
			image[offset+3] = 0xff
		}
	}

	return image
}

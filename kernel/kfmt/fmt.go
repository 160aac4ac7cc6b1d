// Package kfmt provides a minimal, allocation-free Printf implementation
// that can be safely used at any point of the kernel lifetime. Before an
// output sink is registered, formatted output accumulates in a ring buffer
// and gets replayed once a sink becomes available.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the buffer size for formatting numbers. It is large
// enough for a 64-bit value in base 8 plus a sign.
const numBufSize = 24

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf [numBufSize]byte

	// singleByte is a shared buffer for emitting individual characters
	// without converting strings to byte slices (which would allocate).
	singleByte = []byte(" ")

	// earlyPrintBuffer buffers Printf output emitted before an output
	// sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the io.Writer that currently receives Printf output.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats its arguments to the active output sink. The supported verb
// subset is %s (string or []byte), %d, %x, %o (integers of any built-in
// width), and %t (bool). An optional decimal width before the verb pads the
// value: spaces for strings and base-10 values, zeroes for base-8/16 values.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArgIndex int
		index        int
		fmtLen       = len(format)
	)

	for index < fmtLen {
		ch := format[index]
		if ch != '%' {
			emitByte(w, ch)
			index++
			continue
		}

		// Scan the (optional) width followed by the verb character
		index++
		padLen := 0
		for ; index < fmtLen && format[index] >= '0' && format[index] <= '9'; index++ {
			padLen = (padLen * 10) + int(format[index]-'0')
		}

		if index >= fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[index]
		index++

		if verb == '%' {
			emitByte(w, '%')
			continue
		}

		if nextArgIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}
		arg := args[nextArgIndex]
		nextArgIndex++

		switch verb {
		case 'o':
			fmtInt(w, arg, 8, padLen)
		case 'd':
			fmtInt(w, arg, 10, padLen)
		case 'x':
			fmtInt(w, arg, 16, padLen)
		case 's':
			fmtString(w, arg, padLen)
		case 't':
			fmtBool(w, arg)
		default:
			doWrite(w, errNoVerb)
		}
	}

	// Check for unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		doWrite(w, errWrongArgType)
		return
	}

	if bVal {
		doWrite(w, trueValue)
	} else {
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		// Converting the string to a byte slice would allocate, so the
		// bytes are emitted one at a time.
		for i := 0; i < len(castedVal); i++ {
			emitByte(w, castedVal[i])
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		emitByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		uval     uint64
		negative bool
	)

	switch num := v.(type) {
	case uint8:
		uval = uint64(num)
	case uint16:
		uval = uint64(num)
	case uint32:
		uval = uint64(num)
	case uint64:
		uval = num
	case uint:
		uval = uint64(num)
	case uintptr:
		uval = uint64(num)
	case int8:
		negative, uval = intParts(int64(num))
	case int16:
		negative, uval = intParts(int64(num))
	case int32:
		negative, uval = intParts(int64(num))
	case int64:
		negative, uval = intParts(num)
	case int:
		negative, uval = intParts(int64(num))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	padCh := byte(' ')
	if base != 10 {
		padCh = '0'
	}
	if padLen >= numBufSize {
		padLen = numBufSize - 1
	}

	// Emit the digits into numFmtBuf in reverse order
	width := 0
	for {
		digit := byte(uval % uint64(base))
		if digit < 10 {
			numFmtBuf[width] = digit + '0'
		} else {
			numFmtBuf[width] = digit - 10 + 'a'
		}
		width++

		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	switch {
	case negative && padCh == '0':
		// Zero-padded values carry the sign in front of the padding
		emitByte(w, '-')
		fmtRepeat(w, padCh, padLen-width-1)
	case negative:
		fmtRepeat(w, padCh, padLen-width-1)
		emitByte(w, '-')
	default:
		fmtRepeat(w, padCh, padLen-width)
	}

	// Un-reverse the digits while emitting them
	for index := width - 1; index >= 0; index-- {
		emitByte(w, numFmtBuf[index])
	}
}

// intParts splits a signed value into its sign and magnitude.
func intParts(sval int64) (negative bool, uval uint64) {
	if sval < 0 {
		return true, uint64(-sval)
	}
	return false, uint64(sval)
}

// emitByte writes a single byte to w via the shared single-byte buffer.
func emitByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack the compiler cannot detect
// that p does not escape (due to the call to the yet unknown io.Writer) and
// plays it safe by flagging it as escaping. That would make every Printf call
// allocate, crashing the kernel if Printf runs before the Go allocator is
// initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

package sandbox

import (
	"image"
	"testing"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromWAT(t *testing.T, wat string) *Sandbox {
	t.Helper()
	raw, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)

	s, err := FromBytes(raw)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFromBytesSizeCap(t *testing.T) {
	_, err := FromBytes(make([]byte, MaxModuleBytes+1))
	require.ErrorIs(t, err, ErrModuleTooLarge)
}

func TestFromBytesInvalidModule(t *testing.T) {
	_, err := FromBytes([]byte("definitely not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestCallEventContinue(t *testing.T) {
	s := fromWAT(t, `(module
	  (func (export "on_event") (param i32) (result i32)
	    i32.const 0))`)

	assert.Equal(t, int32(0), s.CallEvent(1))
}

func TestCallEventCancel(t *testing.T) {
	s := fromWAT(t, `(module
	  (func (export "on_event") (param i32) (result i32)
	    i32.const 1))`)

	assert.Equal(t, ResultCancel, s.CallEvent(3))
}

func TestCallEventMissingExport(t *testing.T) {
	s := fromWAT(t, `(module)`)
	assert.Equal(t, int32(0), s.CallEvent(1))
}

func TestCallEventTrap(t *testing.T) {
	s := fromWAT(t, `(module
	  (func (export "on_event") (param i32) (result i32)
	    unreachable))`)

	// A trapping module degrades to continue; nothing escapes the sandbox.
	assert.Equal(t, int32(0), s.CallEvent(1))
}

func TestCallEventBusyLoopHaltsOnFuel(t *testing.T) {
	s := fromWAT(t, `(module
	  (func (export "on_event") (param i32) (result i32)
	    (loop $spin (br $spin))
	    unreachable))`)

	// The loop halts once the fuel budget is exhausted, without any timer.
	assert.Equal(t, int32(0), s.CallEvent(1))

	// Fuel is reset per call, so the sandbox stays usable.
	assert.Equal(t, int32(0), s.CallEvent(2))
}

func TestCallEventReceivesEventType(t *testing.T) {
	s := fromWAT(t, `(module
	  (func (export "on_event") (param i32) (result i32)
	    local.get 0))`)

	assert.Equal(t, int32(6), s.CallEvent(6))
}

func TestMemoryGrowthCapped(t *testing.T) {
	s := fromWAT(t, `(module
	  (memory 1)
	  (func (export "on_event") (param i32) (result i32)
	    (drop (memory.grow (i32.const 2000)))
	    i32.const 0))`)

	// Growth past the limiter fails inside the module, never the host.
	assert.Equal(t, int32(0), s.CallEvent(1))
}

func TestSetImageBytesLengthMismatch(t *testing.T) {
	s := fromWAT(t, `(module)`)

	s.SetImageBytes(make([]byte, 10), 2, 2)
	assert.Nil(t, s.pixels)
	assert.Equal(t, int32(0), s.getPixel(0, 0))
}

func TestSetImageBytesOverCap(t *testing.T) {
	s := fromWAT(t, `(module)`)

	// 8192*8192*4 bytes exceeds MaxImageBytes; the claimed size alone is
	// enough to reject before touching the data.
	s.SetImageBytes(make([]byte, 16), 8192, 8192)
	assert.Nil(t, s.pixels)
}

func TestSetImageBytesReplacesBadImage(t *testing.T) {
	s := fromWAT(t, `(module)`)

	s.SetImageBytes([]byte{0x11, 0x22, 0x33, 0xFF}, 1, 1)
	require.NotNil(t, s.pixels)

	s.SetImageBytes(make([]byte, 3), 1, 1)
	assert.Nil(t, s.pixels)
	assert.Equal(t, int32(0), s.getPixel(0, 0))
}

func TestGetPixelPacksARGB(t *testing.T) {
	s := fromWAT(t, `(module)`)

	s.SetImageBytes([]byte{0x11, 0x22, 0x33, 0xFF}, 1, 1)
	assert.Equal(t, int32(-15654349), s.getPixel(0, 0)) // 0xFF112233 as i32

	// Out-of-range coordinates read as 0.
	assert.Equal(t, int32(0), s.getPixel(1, 0))
	assert.Equal(t, int32(0), s.getPixel(0, -1))
}

func TestGuestReadsHostImage(t *testing.T) {
	s := fromWAT(t, `(module
	  (import "env" "get_pixel" (func $get_pixel (param i32 i32) (result i32)))
	  (func (export "on_event") (param i32) (result i32)
	    (call $get_pixel (i32.const 0) (i32.const 0))))`)

	s.SetImageBytes([]byte{0x11, 0x22, 0x33, 0xFF}, 1, 1)
	assert.Equal(t, int32(-15654349), s.CallEvent(2))
}

func TestGuestDimensionQueries(t *testing.T) {
	s := fromWAT(t, `(module
	  (import "env" "get_image_width" (func $width (result i32)))
	  (import "env" "get_image_height" (func $height (result i32)))
	  (func (export "on_event") (param i32) (result i32)
	    (i32.add (i32.mul (call $width) (i32.const 100)) (call $height))))`)

	s.SetImageBytes(make([]byte, 3*2*4), 3, 2)
	assert.Equal(t, int32(302), s.CallEvent(2))
}

func TestModifiedImage(t *testing.T) {
	s := fromWAT(t, `(module
	  (import "env" "set_pixel" (func $set_pixel (param i32 i32 i32)))
	  (func (export "on_event") (param i32) (result i32)
	    (call $set_pixel (i32.const 0) (i32.const 0) (i32.const 0xFF112233))
	    i32.const 2))`)

	s.SetImageBytes(make([]byte, 4), 1, 1)
	require.Equal(t, ResultModifiedImage, s.CallEvent(2))

	img := s.ModifiedImage()
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 1, 1), img.Bounds())
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0xFF}, img.Pix)
}

func TestModifiedImageRequiresWrite(t *testing.T) {
	s := fromWAT(t, `(module)`)

	s.SetImageBytes(make([]byte, 4), 1, 1)
	assert.Nil(t, s.ModifiedImage())
}

func TestSetImageResetsModifiedFlag(t *testing.T) {
	s := fromWAT(t, `(module
	  (import "env" "set_pixel" (func $set_pixel (param i32 i32 i32)))
	  (func (export "on_event") (param i32) (result i32)
	    (call $set_pixel (i32.const 0) (i32.const 0) (i32.const 0xFF112233))
	    i32.const 2))`)

	s.SetImageBytes(make([]byte, 4), 1, 1)
	require.Equal(t, ResultModifiedImage, s.CallEvent(2))
	require.NotNil(t, s.ModifiedImage())

	s.SetImageBytes(make([]byte, 4), 1, 1)
	assert.Nil(t, s.ModifiedImage())
}

func TestSetImageRejectsSubimageStride(t *testing.T) {
	s := fromWAT(t, `(module)`)

	base := image.NewRGBA(image.Rect(0, 0, 4, 4))
	sub := base.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	// A non-tight pixel layout is a size mismatch, not something to
	// truncate around.
	s.SetImage(sub)
	assert.Nil(t, s.pixels)
	assert.Equal(t, int32(0), s.getPixel(0, 0))
}

func TestSetImageCopiesPixels(t *testing.T) {
	s := fromWAT(t, `(module)`)

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0], img.Pix[1], img.Pix[2], img.Pix[3] = 0x11, 0x22, 0x33, 0xFF
	s.SetImage(img)

	// The sandbox works on a private copy; mutating the host image
	// afterwards is invisible to the guest.
	img.Pix[0] = 0x99
	assert.Equal(t, int32(-15654349), s.getPixel(0, 0))
}

func TestLifecycleExports(t *testing.T) {
	s := fromWAT(t, `(module
	  (global $state (mut i32) (i32.const 0))
	  (func (export "on_load")
	    (global.set $state (i32.const 7)))
	  (func (export "on_unload")
	    (global.set $state (i32.const 0)))
	  (func (export "on_event") (param i32) (result i32)
	    global.get $state))`)

	s.OnLoad()
	assert.Equal(t, int32(7), s.CallEvent(1))

	s.OnUnload()
	assert.Equal(t, int32(0), s.CallEvent(1))
}

func TestLifecycleMissingExports(t *testing.T) {
	s := fromWAT(t, `(module)`)

	// Optional exports; absence is not an error.
	s.OnLoad()
	s.OnUnload()
}

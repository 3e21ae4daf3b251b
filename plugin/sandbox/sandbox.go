// Package sandbox executes untrusted WASM plugin modules under hard CPU and
// memory bounds. CPU is metered with fuel, a work budget the runtime
// decrements per executed instruction, so a busy-looping module halts
// deterministically without timers. Memory, table and instance growth are
// capped by a store-scoped resource limiter; growth beyond a cap fails the
// offending call inside the module, never the host process. The module gets
// no ambient filesystem or network access, only the small env host API.
package sandbox

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

const (
	// MaxModuleBytes caps module file size before compilation, bounding
	// compile-time cost against oversized inputs.
	MaxModuleBytes = 8 << 20
	// MaxImageBytes caps the raw image bytes a sandbox will accept.
	MaxImageBytes = 64 << 20

	// EventFuel is the budget reset before each on_event call.
	EventFuel = 15_000_000
	// LifecycleFuel is the smaller budget for on_load/on_unload and module
	// instantiation.
	LifecycleFuel = 2_000_000

	maxMemoryBytes   = 64 << 20
	maxTableElements = 10_000
	maxInstances     = 1
	maxTables        = 4
	maxMemories      = 1
)

// Result codes a module's on_event export may return. Any other value means
// continue.
const (
	ResultCancel        int32 = 1
	ResultModifiedImage int32 = 2
)

// ErrModuleTooLarge is returned before compiling a module over MaxModuleBytes.
var ErrModuleTooLarge = errors.New("WASM module exceeds size limit")

// Sandbox is one isolated module instance with a sandbox-private image
// buffer. Calls are synchronous; no trap, fuel exhaustion or resource
// failure inside the module propagates past this boundary.
type Sandbox struct {
	engine   *wasmtime.Engine
	store    *wasmtime.Store
	instance *wasmtime.Instance

	pixels   []byte
	width    int32
	height   int32
	modified bool
}

// New loads and instantiates the module at path.
func New(path string) (*Sandbox, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read WASM module: %w", err)
	}
	return FromBytes(raw)
}

// FromBytes compiles and instantiates a module from raw bytes, with fuel
// metering and resource limits in place before any guest code runs.
func FromBytes(raw []byte) (*Sandbox, error) {
	if len(raw) > MaxModuleBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrModuleTooLarge, len(raw), MaxModuleBytes)
	}

	config := wasmtime.NewConfig()
	config.SetConsumeFuel(true)
	engine := wasmtime.NewEngineWithConfig(config)

	module, err := wasmtime.NewModule(engine, raw)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("compile WASM module: %w", err)
	}

	store := wasmtime.NewStore(engine)
	store.Limiter(maxMemoryBytes, maxTableElements, maxInstances, maxTables, maxMemories)

	s := &Sandbox{engine: engine, store: store}

	// Instantiation (including any start function) runs under the
	// lifecycle budget, not the larger per-event one.
	if err := store.SetFuel(LifecycleFuel); err != nil {
		s.Close()
		return nil, fmt.Errorf("configure WASM fuel: %w", err)
	}

	linker := wasmtime.NewLinker(engine)
	if err := s.linkHostAPI(linker); err != nil {
		s.Close()
		return nil, err
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("instantiate WASM module: %w", err)
	}
	s.instance = instance

	return s, nil
}

// linkHostAPI exposes the minimal env imports a plugin module may use. The
// pixel accessors operate on the sandbox-private copy of the image, never on
// host memory.
func (s *Sandbox) linkHostAPI(linker *wasmtime.Linker) error {
	if err := linker.DefineFunc(s.store, "env", "get_image_width", func() int32 {
		return s.width
	}); err != nil {
		return fmt.Errorf("link get_image_width: %w", err)
	}

	if err := linker.DefineFunc(s.store, "env", "get_image_height", func() int32 {
		return s.height
	}); err != nil {
		return fmt.Errorf("link get_image_height: %w", err)
	}

	if err := linker.DefineFunc(s.store, "env", "get_pixel", func(x, y int32) int32 {
		return s.getPixel(x, y)
	}); err != nil {
		return fmt.Errorf("link get_pixel: %w", err)
	}

	if err := linker.DefineFunc(s.store, "env", "set_pixel", func(x, y, rgba int32) {
		s.setPixel(x, y, uint32(rgba))
	}); err != nil {
		return fmt.Errorf("link set_pixel: %w", err)
	}

	// Reserved for guest logging; currently a no-op.
	if err := linker.DefineFunc(s.store, "env", "log_message", func(ptr, length int32) {
	}); err != nil {
		return fmt.Errorf("link log_message: %w", err)
	}

	return nil
}

// getPixel returns the pixel at (x, y) packed as ARGB (A<<24|R<<16|G<<8|B),
// or 0 when no image is set or the coordinates are out of range.
func (s *Sandbox) getPixel(x, y int32) int32 {
	if s.pixels == nil || x < 0 || y < 0 || x >= s.width || y >= s.height {
		return 0
	}
	idx := (int(y)*int(s.width) + int(x)) * 4
	packed := uint32(s.pixels[idx+3])<<24 |
		uint32(s.pixels[idx])<<16 |
		uint32(s.pixels[idx+1])<<8 |
		uint32(s.pixels[idx+2])
	return int32(packed)
}

func (s *Sandbox) setPixel(x, y int32, rgba uint32) {
	if s.pixels == nil || x < 0 || y < 0 || x >= s.width || y >= s.height {
		return
	}
	idx := (int(y)*int(s.width) + int(x)) * 4
	s.pixels[idx] = byte(rgba >> 16)
	s.pixels[idx+1] = byte(rgba >> 8)
	s.pixels[idx+2] = byte(rgba)
	s.pixels[idx+3] = byte(rgba >> 24)
	s.modified = true
}

// SetImage copies img's raw bytes into sandbox storage. A nil image or one
// whose layout is not exactly width*height*4 tightly packed bytes leaves the
// sandbox with no image at all.
func (s *Sandbox) SetImage(img *image.RGBA) {
	if img == nil {
		s.clearImage()
		return
	}
	bounds := img.Bounds()
	if img.Stride != bounds.Dx()*4 {
		s.clearImage()
		return
	}
	s.SetImageBytes(img.Pix, bounds.Dx(), bounds.Dy())
}

// SetImageBytes copies raw RGBA bytes into sandbox storage only when the
// length is exactly width*height*4 and within MaxImageBytes. Any mismatch
// clears the image instead of trusting the caller's size claim or
// truncating: pixel accessors then return 0.
func (s *Sandbox) SetImageBytes(data []byte, width, height int) {
	s.clearImage()

	if width <= 0 || height <= 0 {
		return
	}
	expected := int64(width) * int64(height) * 4
	if expected > MaxImageBytes || int64(len(data)) != expected {
		return
	}

	s.pixels = append([]byte(nil), data...)
	s.width = int32(width)
	s.height = int32(height)
}

func (s *Sandbox) clearImage() {
	s.pixels = nil
	s.width = 0
	s.height = 0
	s.modified = false
}

// ModifiedImage reconstructs an owned image from the sandbox buffer, or nil
// when no set_pixel write occurred. The buffer length matches the declared
// dimensions by construction.
func (s *Sandbox) ModifiedImage() *image.RGBA {
	if !s.modified || s.pixels == nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, int(s.width), int(s.height)))
	copy(img.Pix, s.pixels)
	return img
}

// CallEvent invokes the module's on_event export with a fresh event fuel
// budget. A missing export, a trap or an exhausted budget all degrade to 0
// (continue); nothing escapes the sandbox boundary.
func (s *Sandbox) CallEvent(eventType int32) int32 {
	if err := s.store.SetFuel(EventFuel); err != nil {
		return 0
	}
	fn := s.instance.GetFunc(s.store, "on_event")
	if fn == nil {
		return 0
	}
	result, err := fn.Call(s.store, eventType)
	if err != nil {
		return 0
	}
	code, ok := result.(int32)
	if !ok {
		return 0
	}
	return code
}

// OnLoad calls the module's optional on_load export under the lifecycle
// budget.
func (s *Sandbox) OnLoad() { s.callLifecycle("on_load") }

// OnUnload calls the module's optional on_unload export under the lifecycle
// budget.
func (s *Sandbox) OnUnload() { s.callLifecycle("on_unload") }

func (s *Sandbox) callLifecycle(name string) {
	if err := s.store.SetFuel(LifecycleFuel); err != nil {
		return
	}
	fn := s.instance.GetFunc(s.store, name)
	if fn == nil {
		return
	}
	_, _ = fn.Call(s.store)
}

// Close releases the execution store and engine. The sandbox must not be
// used afterwards.
func (s *Sandbox) Close() error {
	s.clearImage()
	s.instance = nil
	if s.store != nil {
		s.store.Close()
		s.store = nil
	}
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	return nil
}

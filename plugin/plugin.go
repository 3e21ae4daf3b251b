// Package plugin hosts third-party extensions for the capture application.
// It supports two execution backends behind one interface: native dynamic
// libraries, which run fully trusted inside the host process, and WASM
// modules, which run inside a CPU- and memory-bounded sandbox.
//
// The Manager is not safe for concurrent use. Plugin calls execute
// synchronously on the caller's thread; serialize access externally if the
// host dispatches events from more than one goroutine.
package plugin

import (
	"image"
	"runtime"
)

// HostVersion is the capscr version plugin compatibility requirements are
// checked against.
const HostVersion = "0.4.0"

// CaptureMode identifies what kind of capture produced an image.
type CaptureMode int

const (
	CaptureFullScreen CaptureMode = iota + 1
	CaptureWindow
	CaptureRegion
	CaptureGif
)

// EventKind identifies a lifecycle event. The numeric values are the wire
// codes passed to a WASM module's on_event export.
type EventKind int32

const (
	EventPreCapture  EventKind = 1
	EventPostCapture EventKind = 2
	EventPreSave     EventKind = 3
	EventPostSave    EventKind = 4
	EventPreUpload   EventKind = 5
	EventPostUpload  EventKind = 6
)

// Event is a capture lifecycle notification delivered to plugins. It is a
// closed tagged variant: Kind selects which of the remaining fields are
// meaningful. Images are shared, read-mostly handles; multiple plugins may
// observe the same capture without copying.
type Event struct {
	Kind EventKind

	// Image is set for PostCapture, PreSave and PreUpload.
	Image *image.RGBA
	// Mode is set for PreCapture and PostCapture.
	Mode CaptureMode
	// Path is set for PreSave and PostSave.
	Path string
	// URL is set for PostUpload.
	URL string
}

// PreCaptureEvent fires before any pixels are read.
func PreCaptureEvent(mode CaptureMode) *Event {
	return &Event{Kind: EventPreCapture, Mode: mode}
}

// PostCaptureEvent fires once a capture produced an image.
func PostCaptureEvent(img *image.RGBA, mode CaptureMode) *Event {
	return &Event{Kind: EventPostCapture, Image: img, Mode: mode}
}

// PreSaveEvent fires before the image is written to path.
func PreSaveEvent(img *image.RGBA, path string) *Event {
	return &Event{Kind: EventPreSave, Image: img, Path: path}
}

// PostSaveEvent fires after the image was written to path.
func PostSaveEvent(path string) *Event {
	return &Event{Kind: EventPostSave, Path: path}
}

// PreUploadEvent fires before the image is uploaded.
func PreUploadEvent(img *image.RGBA) *Event {
	return &Event{Kind: EventPreUpload, Image: img}
}

// PostUploadEvent fires after an upload completed, with the resulting URL.
func PostUploadEvent(url string) *Event {
	return &Event{Kind: EventPostUpload, URL: url}
}

// ResponseKind identifies how a plugin answered an event.
type ResponseKind int32

const (
	ResponseContinue ResponseKind = iota
	ResponseCancel
	ResponseModifiedImage
)

// Response is a plugin's answer to an Event.
type Response struct {
	Kind ResponseKind

	// Image is set for ResponseModifiedImage.
	Image *image.RGBA
}

// Continue lets the host proceed unchanged.
func Continue() Response {
	return Response{Kind: ResponseContinue}
}

// Cancel asks the host to abort the operation that produced the event.
func Cancel() Response {
	return Response{Kind: ResponseCancel}
}

// ModifiedImage replaces the host's current image with img.
func ModifiedImage(img *image.RGBA) Response {
	return Response{Kind: ResponseModifiedImage, Image: img}
}

// Plugin is the polymorphic object both backends present to the Manager.
// Native plugin libraries export a constructor returning one of these; the
// WASM backend adapts a sandboxed module to the same shape.
type Plugin interface {
	Name() string
	Version() string
	Description() string

	// OnEvent handles one lifecycle event. Every plugin in the chain sees
	// the same event value; a returned ModifiedImage is not threaded back
	// into the events later plugins observe.
	OnEvent(event *Event) Response

	// OnLoad is called exactly once after the plugin is constructed.
	OnLoad()
	// OnUnload is called exactly once before the plugin is released.
	OnUnload()
}

// currentPlatform maps the running OS onto the platform names manifests use.
func currentPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	default:
		return "unknown"
	}
}

// Package backend defines the contract between an engine and the audio
// device or file it renders to. A backend owns the render cadence: it
// calls the render function once per block, from a single goroutine,
// until the handle is closed.
package backend

import "github.com/dudk/patch/signal"

type (
	// Config carries the stream parameters the engine was configured
	// with. InputChannels of zero opens an output-only stream.
	Config struct {
		SampleRate    int
		BlockSize     int
		Channels      int
		InputChannels int
	}

	// RenderFunc renders one block. in is nil for output-only streams,
	// out holds Config.Channels channels of Config.BlockSize samples.
	RenderFunc func(in, out signal.Float64)

	// Handle is an open stream. Close stops the callback delivery and
	// releases the device or file; after Close returns the render
	// function is not invoked anymore.
	Handle interface {
		Close() error
	}

	// Backend opens a stream delivering render callbacks.
	Backend interface {
		Open(Config, RenderFunc) (Handle, error)
	}
)

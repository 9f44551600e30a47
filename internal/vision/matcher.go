// Package vision defines the screen-analysis boundary the automation tasks
// query. The matching engine itself (template matching, OCR) is pluggable;
// this package only fixes the contract and ships a scriptable in-memory
// implementation for tests and dry runs.
package vision

import "siegebot/internal/device"

// Region is a rectangular area of a frame, in pixels.
type Region struct {
	X, Y, W, H int
}

// Match is a located template with its center coordinates and confidence.
type Match struct {
	X          int
	Y          int
	Confidence float64
}

// Matcher answers "is element X visible, and where" queries against a
// captured frame. Implementations are pure queries: synchronous, no side
// effects on the device.
type Matcher interface {
	// Locate searches the frame for the named template and returns the best
	// match at or above minConfidence, or ok=false when nothing qualifies.
	Locate(frame *device.Frame, templateID string, minConfidence float64) (Match, bool)

	// ReadText runs OCR over the given region of the frame.
	ReadText(frame *device.Frame, region Region) (string, error)
}

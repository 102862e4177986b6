package acq

import "time"

// SummaryMeta is published once per sequence, at sequenceStarted. It
// describes the image geometry the camera will produce for the whole run.
type SummaryMeta struct {
	DateTime    time.Time
	CameraLabel string
	Width       int
	Height      int
	BitDepth    int
	Components  int
	PixelSizeUm float64
	ExposureMs  float64
}

// FrameMeta is published with every frameReady event.
type FrameMeta struct {
	// ReceivedAt is the host time the frame left the camera.
	ReceivedAt time.Time
	// ElapsedMs is time since sequenceStarted.
	ElapsedMs   float64
	ExposureMs  float64
	CameraLabel string
}

// ROI is a camera region of interest in sensor pixel coordinates.
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

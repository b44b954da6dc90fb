// Package pipeline wires one video source to the plate tracking core.
//
// A Session owns exactly one tracking.Tracker and one plate.Normalizer.
// Frames flow detector -> recognizer -> normalizer -> tracker, and every
// confirmed plate is logged through a Recorder and checked against an
// AllowList. Detection and recognition are injected capabilities so the
// same Session runs against a remote inference service, recorded
// detections, or test doubles.
package pipeline

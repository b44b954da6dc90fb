// Package tracking associates per-frame plate detections into persistent
// tracks and decides when a track's plate text is confirmed.
//
// Responsibilities: IoU-based association, track lifecycle (creation,
// update, time-based expiry), and majority-vote confirmation over each
// track's observation history.
// Key types: Tracker, Track, Detection, ConfirmedPlate.
//
// The package performs no I/O and holds no global state. Each video
// source owns its own Tracker.
package tracking

// Package bob drives the ball-on-beam shield: a range sensor looking along
// the beam and a servo tilting it.
//
// A Driver starts uncalibrated with inverted sentinel bounds (500/10 mm) and
// becomes calibrated after the first successful Calibrate. Position reads
// work in both states; before calibration ReadPosition subtracts a fixed
// default offset instead of the learned minimum.
//
// Actuation is clamp, then map, then offset: the requested angle is
// truncated to whole degrees, clamped to ±30°, mapped onto the inverted
// servo range [65,125] and shifted by the zero compensation.
package bob

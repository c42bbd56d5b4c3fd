// Package calibrate memoizes runs of an external numerical executable and
// fits its free parameters against a target curve.
package calibrate

// Version is the calibrate release version.
const Version = "0.1.0"

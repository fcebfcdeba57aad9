// Package imaging wraps the external tools that do the pixel and geometry work
// (DNG converter, ImageMagick, RealityCapture) and measures the color
// reference swatch used to derive per-channel correction gains.
package imaging

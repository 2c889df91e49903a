// Package capture reads camera, microphone and screen through
// pion/mediadevices. It needs the platform drivers and the vpx and opus
// encoders, so it is only compiled with the mediadevices build tag.
package capture

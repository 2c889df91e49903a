//go:build mediadevices

package main

import (
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/media/capture"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/media/pion"
)

func newDevices() (pion.Devices, error) {
	return capture.NewDevices()
}

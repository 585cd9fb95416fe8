package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 32

// Tray icons: a filled disc whose colour follows the session state.
var (
	iconData          = discIcon(color.RGBA{0x5b, 0x6b, 0x7f, 0xff}) // idle
	iconDataScanning  = discIcon(color.RGBA{0xf5, 0xa6, 0x23, 0xff})
	iconDataConnected = discIcon(color.RGBA{0x2e, 0xb8, 0x5c, 0xff}) // tag captured
	iconDataError     = discIcon(color.RGBA{0xd9, 0x3f, 0x3f, 0xff})
)

func discIcon(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	r := iconSize/2 - 2
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := x-iconSize/2, y-iconSize/2
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

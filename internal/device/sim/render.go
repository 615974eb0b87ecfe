package sim

import (
	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// Scene returns the true colour of a pixel.
type Scene func(x, y int) (r, g, b uint8)

// Solid is a scene of one colour.
func Solid(r, g, b uint8) Scene {
	return func(int, int) (uint8, uint8, uint8) { return r, g, b }
}

// Gradient is a diagonal colour ramp that slides by shift pixels, so
// consecutive frames are distinguishable.
func Gradient(shift int) Scene {
	return func(x, y int) (uint8, uint8, uint8) {
		return uint8(x + shift), uint8(y + shift), uint8((x + y) / 2)
	}
}

// bayerPattern gives the colour channel (0=R 1=G 2=B) sampled at each
// position of the 2x2 tile, row-major, for every mosaic.
var bayerPattern = map[device.PixelFormat][4]int{
	device.PixelFormatBayerRG8: {0, 1, 1, 2},
	device.PixelFormatBayerGR8: {1, 0, 2, 1},
	device.PixelFormatBayerGB8: {1, 2, 0, 1},
	device.PixelFormatBayerBG8: {2, 1, 1, 0},
}

// Render fills dst with the scene encoded in format and returns the number
// of bytes written. dst must hold width*height*format.BytesPerPixel() bytes.
// Unknown formats are filled as Mono8, which is how a camera would hand
// over a format the host does not understand.
func Render(dst []byte, format device.PixelFormat, width, height int, scene Scene) int {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		bpp = 1
	}
	pattern, bayer := bayerPattern[format]

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := scene(x, y)
			switch {
			case bayer:
				rgb := [3]uint8{r, g, b}
				dst[i] = rgb[pattern[(y&1)*2+(x&1)]]
			case format == device.PixelFormatRGB8:
				dst[i], dst[i+1], dst[i+2] = r, g, b
			case format == device.PixelFormatBGR8:
				dst[i], dst[i+1], dst[i+2] = b, g, r
			default:
				dst[i] = uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
			}
			i += bpp
		}
	}
	return i
}

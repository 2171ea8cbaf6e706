package webcam

import (
	"bytes"
	"encoding/binary"
)

// ImageInfo sniffs the content type and pixel dimensions of an image blob.
// Width and height are -1 when they cannot be determined.
func ImageInfo(data []byte) (contentType string, width, height int) {
	width, height = -1, -1
	size := len(data)

	switch {
	// GIF87a / GIF89a
	case size >= 10 && (bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))):
		contentType = "image/gif"
		width = int(binary.LittleEndian.Uint16(data[6:8]))
		height = int(binary.LittleEndian.Uint16(data[8:10]))

	// PNG with IHDR at the standard offset
	case size >= 24 && bytes.HasPrefix(data, pngMagic) && bytes.Equal(data[12:16], []byte("IHDR")):
		contentType = "image/png"
		width = int(binary.BigEndian.Uint32(data[16:20]))
		height = int(binary.BigEndian.Uint32(data[20:24]))

	// Older PNG layout without the IHDR chunk header
	case size >= 16 && bytes.HasPrefix(data, pngMagic):
		contentType = "image/png"
		width = int(binary.BigEndian.Uint32(data[8:12]))
		height = int(binary.BigEndian.Uint32(data[12:16]))

	case size >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		contentType = "image/jpeg"
		width, height = jpegDimensions(data)
	}

	return contentType, width, height
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// jpegDimensions walks the JPEG marker segments looking for a start-of-frame
// (SOF0..SOF3) and reads the dimensions out of it.
func jpegDimensions(data []byte) (int, int) {
	i := 2
	for i < len(data) {
		// seek to the next marker
		for i < len(data) && data[i] != 0xFF {
			i++
		}
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			break
		}

		marker := data[i]
		i++
		if marker == 0xDA { // start of scan, no SOF found
			break
		}
		if marker >= 0xC0 && marker <= 0xC3 {
			if i+7 > len(data) {
				break
			}
			h := int(binary.BigEndian.Uint16(data[i+3 : i+5]))
			w := int(binary.BigEndian.Uint16(data[i+5 : i+7]))
			return w, h
		}

		if i+2 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i : i+2]))
		if segLen < 2 {
			break
		}
		i += segLen
	}
	return -1, -1
}

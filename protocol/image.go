// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// ImageFormatPNG is the only image format the server produces.
const ImageFormatPNG = "png"

// Image is a rendered decoration value. Icons are not representable
// on the wire in their native form, so the server renders them to a
// fixed-size PNG and sends this instead.
type Image struct {
	Format string `cbor:"format"`
	Width  int32  `cbor:"width"`
	Height int32  `cbor:"height"`
	Data   []byte `cbor:"data"`
}

// ImageFromValue recognizes an Image in a value decoded with
// PayloadDecoder.Value, where it arrives as a map.
func ImageFromValue(value any) (Image, bool) {
	switch v := value.(type) {
	case Image:
		return v, true
	case *Image:
		if v == nil {
			return Image{}, false
		}
		return *v, true
	case map[string]any:
		format, ok := v["format"].(string)
		if !ok {
			return Image{}, false
		}
		data, ok := v["data"].([]byte)
		if !ok {
			return Image{}, false
		}
		width, _ := v["width"].(int64)
		height, _ := v["height"].(int64)
		return Image{Format: format, Width: int32(width), Height: int32(height), Data: data}, true
	}
	return Image{}, false
}

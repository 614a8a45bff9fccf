// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// IconSize is the edge length, in pixels, of rendered decorations.
const IconSize = 16

// maxCachedIcons bounds the rendered-icon cache. The cache is dropped
// wholesale when it fills.
const maxCachedIcons = 512

// iconDomainKey separates icon cache digests from any other BLAKE3
// use. ASCII of the domain name, zero-padded to 32 bytes.
var iconDomainKey = [32]byte{
	'm', 'o', 'd', 'e', 'l', 's', 'y', 'n', 'c', '.', 'i', 'c', 'o', 'n', 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// iconRenderer turns model.Icon decorations into PNG images of a
// fixed size. Identical source pixels are encoded once.
type iconRenderer struct {
	size int

	mu    sync.Mutex
	cache map[[32]byte]protocol.Image
}

func newIconRenderer(size int) *iconRenderer {
	if size <= 0 {
		size = IconSize
	}
	return &iconRenderer{size: size, cache: make(map[[32]byte]protocol.Image)}
}

// render returns the wire form of icon, or false if the icon has no
// picture at this size or the picture cannot be encoded.
func (r *iconRenderer) render(icon model.Icon) (protocol.Image, bool) {
	source := icon.Image(r.size)
	if source == nil || source.Bounds().Empty() {
		return protocol.Image{}, false
	}
	scaled := scaleNearest(source, r.size)
	digest := pixelDigest(scaled)

	r.mu.Lock()
	cached, ok := r.cache[digest]
	r.mu.Unlock()
	if ok {
		return cached, true
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, scaled); err != nil {
		return protocol.Image{}, false
	}
	rendered := protocol.Image{
		Format: protocol.ImageFormatPNG,
		Width:  int32(r.size),
		Height: int32(r.size),
		Data:   encoded.Bytes(),
	}

	r.mu.Lock()
	if len(r.cache) >= maxCachedIcons {
		clear(r.cache)
	}
	r.cache[digest] = rendered
	r.mu.Unlock()
	return rendered, true
}

// cached returns the number of cached renderings.
func (r *iconRenderer) cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// scaleNearest resamples source to size×size with nearest-neighbor
// sampling.
func scaleNearest(source image.Image, size int) *image.NRGBA {
	bounds := source.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		sourceY := bounds.Min.Y + y*bounds.Dy()/size
		for x := range size {
			sourceX := bounds.Min.X + x*bounds.Dx()/size
			out.Set(x, y, color.NRGBAModel.Convert(source.At(sourceX, sourceY)))
		}
	}
	return out
}

func pixelDigest(pixels *image.NRGBA) [32]byte {
	hasher, err := blake3.NewKeyed(iconDomainKey[:])
	if err != nil {
		panic("remotemodel: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(pixels.Pix)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

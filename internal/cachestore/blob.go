// Package cachestore implements the disk blob format and storage providers
// backing internal/framecache's disk tier and optional cold-mirror tier
// (spec §4.J, §6 "disk cache blob format").
package cachestore

import (
	"encoding/binary"
	"fmt"
)

const (
	blobMagic       = "CNMX"
	blobVersion     = 1
	blobHeaderBytes = 28 // magic(4) + version(4) + width(4) + height(4) + pixelFormat(4) + planeCount(4) + reserved(4)
	blobPlaneBytes  = 12 // bytesPerRow(4) + height(4) + dataLength(4)
)

// Plane is one planar component of a frame blob (e.g. Y, U, V for I420; or
// the single packed plane for RGBA).
type Plane struct {
	BytesPerRow int
	Height      int
	Data        []byte
}

// Blob is the in-memory representation of the disk cache's planar-safe
// frame format: magic='CNMX', version=1, width, height, pixelFormat,
// planeCount, planes[{bytesPerRow, height, dataLength}], payload...
type Blob struct {
	Width       int
	Height      int
	PixelFormat int
	Planes      []Plane
}

// Encode serializes b into the little-endian CNMX wire format.
func Encode(b Blob) []byte {
	total := blobHeaderBytes + len(b.Planes)*blobPlaneBytes
	for _, pl := range b.Planes {
		total += len(pl.Data)
	}
	out := make([]byte, total)

	copy(out[0:4], blobMagic)
	binary.LittleEndian.PutUint32(out[4:8], blobVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(b.Width))
	binary.LittleEndian.PutUint32(out[12:16], uint32(b.Height))
	binary.LittleEndian.PutUint32(out[16:20], uint32(b.PixelFormat))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(b.Planes)))
	// out[24:28] is reserved, left zero.

	off := blobHeaderBytes
	for _, pl := range b.Planes {
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(pl.BytesPerRow))
		binary.LittleEndian.PutUint32(out[off+4:off+8], uint32(pl.Height))
		binary.LittleEndian.PutUint32(out[off+8:off+12], uint32(len(pl.Data)))
		off += blobPlaneBytes
	}
	for _, pl := range b.Planes {
		off += copy(out[off:], pl.Data)
	}
	return out
}

// Decode parses the CNMX wire format back into a Blob. Plane payloads are
// returned as slices into data, not copied.
func Decode(data []byte) (Blob, error) {
	if len(data) < blobHeaderBytes {
		return Blob{}, fmt.Errorf("cachestore: blob too short for header: %d bytes", len(data))
	}
	if string(data[0:4]) != blobMagic {
		return Blob{}, fmt.Errorf("cachestore: bad magic %q", data[0:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != blobVersion {
		return Blob{}, fmt.Errorf("cachestore: unsupported blob version %d", version)
	}
	b := Blob{
		Width:       int(binary.LittleEndian.Uint32(data[8:12])),
		Height:      int(binary.LittleEndian.Uint32(data[12:16])),
		PixelFormat: int(binary.LittleEndian.Uint32(data[16:20])),
	}
	planeCount := int(binary.LittleEndian.Uint32(data[20:24]))

	planesEnd := blobHeaderBytes + planeCount*blobPlaneBytes
	if len(data) < planesEnd {
		return Blob{}, fmt.Errorf("cachestore: blob too short for %d plane descriptors", planeCount)
	}

	type desc struct{ bytesPerRow, height, dataLength int }
	descs := make([]desc, planeCount)
	off := blobHeaderBytes
	for i := range descs {
		descs[i] = desc{
			bytesPerRow: int(binary.LittleEndian.Uint32(data[off : off+4])),
			height:      int(binary.LittleEndian.Uint32(data[off+4 : off+8])),
			dataLength:  int(binary.LittleEndian.Uint32(data[off+8 : off+12])),
		}
		off += blobPlaneBytes
	}

	b.Planes = make([]Plane, planeCount)
	payloadOff := planesEnd
	for i, d := range descs {
		if payloadOff+d.dataLength > len(data) {
			return Blob{}, fmt.Errorf("cachestore: plane %d payload truncated", i)
		}
		b.Planes[i] = Plane{
			BytesPerRow: d.bytesPerRow,
			Height:      d.height,
			Data:        data[payloadOff : payloadOff+d.dataLength],
		}
		payloadOff += d.dataLength
	}
	return b, nil
}

// CopyPlaneInto row-copies src into dst, clamping each row to
// min(dst.BytesPerRow, src.BytesPerRow) and each plane to
// min(dst.Height, src.Height), per the disk-blob round-trip invariant
// (spec §8 invariant 7).
func CopyPlaneInto(dst Plane, src Plane) {
	rowLen := dst.BytesPerRow
	if src.BytesPerRow < rowLen {
		rowLen = src.BytesPerRow
	}
	rows := dst.Height
	if src.Height < rows {
		rows = src.Height
	}
	for row := 0; row < rows; row++ {
		dstOff := row * dst.BytesPerRow
		srcOff := row * src.BytesPerRow
		if dstOff+rowLen > len(dst.Data) || srcOff+rowLen > len(src.Data) {
			return
		}
		copy(dst.Data[dstOff:dstOff+rowLen], src.Data[srcOff:srcOff+rowLen])
	}
}

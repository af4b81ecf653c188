package uimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// Magic identifies a legacy U-Boot image header.
const Magic uint32 = 0x27051956

// HeaderSize is the fixed legacy header length in bytes.
const HeaderSize = 64

// nameSize is the capacity of the image name field.
const nameSize = 32

// Operating system codes understood by the boot stages we produce.
type OS uint8

const (
	OSUBoot   OS = 17
	OSOpenSBI OS = 25
)

// Architecture codes.
type Arch uint8

const (
	ArchRISCV Arch = 26
)

// Image type codes.
type Type uint8

const (
	// TypeMulti carries several payloads prefixed with a size table.
	TypeMulti Type = 4
	// TypeFirmware carries a single opaque payload.
	TypeFirmware Type = 5
)

// Compression codes.
type Comp uint8

const (
	CompNone Comp = 0
	CompGzip Comp = 1
)

var (
	ErrBadMagic     = errors.New("bad image magic")
	ErrBadHeaderCRC = errors.New("header checksum mismatch")
	ErrBadDataCRC   = errors.New("data checksum mismatch")
	ErrShortImage   = errors.New("image shorter than its header")
	errLongName     = errors.New("image name exceeds 31 characters")
	errNoPayload    = errors.New("image needs at least one payload")
)

// Params describes the image to build.
type Params struct {
	OS         OS
	Arch       Arch
	Type       Type
	Comp       Comp
	LoadAddr   uint32
	EntryPoint uint32
	Name       string
	// Created stamps the header timestamp; zero means time.Now.
	Created time.Time
}

// Header is the decoded form of a legacy image header.
type Header struct {
	Size       uint32
	LoadAddr   uint32
	EntryPoint uint32
	Created    time.Time
	OS         OS
	Arch       Arch
	Type       Type
	Comp       Comp
	Name       string
}

// Create wraps the payloads in a legacy header. A multi image gets the
// size table the loader expects; any other type takes exactly one payload.
func Create(params Params, payloads ...[]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, errNoPayload
	}

	if params.Type != TypeMulti && len(payloads) != 1 {
		return nil, fmt.Errorf("image type %d takes a single payload, got %d", params.Type, len(payloads))
	}

	// Name must leave room for the trailing NUL.
	if len(params.Name) >= nameSize {
		return nil, errLongName
	}

	data := assembleData(params.Type, payloads)

	created := params.Created
	if created.IsZero() {
		created = time.Now()
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:], Magic)
	// hcrc at offset 4 stays zero until the rest of the header is final.
	binary.BigEndian.PutUint32(header[8:], uint32(created.Unix()))
	binary.BigEndian.PutUint32(header[12:], uint32(len(data)))
	binary.BigEndian.PutUint32(header[16:], params.LoadAddr)
	binary.BigEndian.PutUint32(header[20:], params.EntryPoint)
	binary.BigEndian.PutUint32(header[24:], crc32.ChecksumIEEE(data))
	header[28] = byte(params.OS)
	header[29] = byte(params.Arch)
	header[30] = byte(params.Type)
	header[31] = byte(params.Comp)
	copy(header[32:], params.Name)

	binary.BigEndian.PutUint32(header[4:], crc32.ChecksumIEEE(header))

	return append(header, data...), nil
}

// assembleData lays out the payload area. Multi images carry a big-endian
// size table terminated by a zero word ahead of the concatenated payloads.
func assembleData(imageType Type, payloads [][]byte) []byte {
	var buf bytes.Buffer

	if imageType == TypeMulti {
		table := make([]byte, 4)
		for _, payload := range payloads {
			binary.BigEndian.PutUint32(table, uint32(len(payload)))
			buf.Write(table)
		}

		binary.BigEndian.PutUint32(table, 0)
		buf.Write(table)
	}

	for _, payload := range payloads {
		buf.Write(payload)
	}

	return buf.Bytes()
}

// Parse decodes and verifies a legacy image, returning the header and the
// raw data area. Both checksums are verified.
func Parse(image []byte) (Header, []byte, error) {
	if len(image) < HeaderSize {
		return Header{}, nil, ErrShortImage
	}

	if binary.BigEndian.Uint32(image[0:]) != Magic {
		return Header{}, nil, ErrBadMagic
	}

	scratch := make([]byte, HeaderSize)
	copy(scratch, image[:HeaderSize])

	wantHCRC := binary.BigEndian.Uint32(scratch[4:])
	binary.BigEndian.PutUint32(scratch[4:], 0)

	if crc32.ChecksumIEEE(scratch) != wantHCRC {
		return Header{}, nil, ErrBadHeaderCRC
	}

	size := binary.BigEndian.Uint32(image[12:])
	if uint32(len(image)-HeaderSize) < size {
		return Header{}, nil, ErrShortImage
	}

	data := image[HeaderSize : HeaderSize+int(size)]
	if crc32.ChecksumIEEE(data) != binary.BigEndian.Uint32(image[24:]) {
		return Header{}, nil, ErrBadDataCRC
	}

	name := image[32:HeaderSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	header := Header{
		Size:       size,
		LoadAddr:   binary.BigEndian.Uint32(image[16:]),
		EntryPoint: binary.BigEndian.Uint32(image[20:]),
		Created:    time.Unix(int64(binary.BigEndian.Uint32(image[8:])), 0),
		OS:         OS(image[28]),
		Arch:       Arch(image[29]),
		Type:       Type(image[30]),
		Comp:       Comp(image[31]),
		Name:       string(name),
	}

	return header, data, nil
}

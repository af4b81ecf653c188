package firmware

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// Magic opens every stamped firmware image.
var Magic = []byte("K230")

const (
	// subHeaderSize is the fixed integrity/signature block length.
	subHeaderSize = 516

	// HeaderSize is the total prefix ahead of the version bytes and payload.
	HeaderSize = 4 + 4 + 4 + subHeaderSize

	// versionSize is the version stamp prepended to the payload.
	versionSize = 4
)

// SecurityType selects the integrity scheme recorded in the header.
type SecurityType int32

const (
	// SecurityNone stores a plain SHA-256 digest of the payload.
	SecurityNone SecurityType = 0
	// SecuritySM4 and SecurityAES are the secure-boot schemes. The boot ROM
	// understands them but this pipeline does not produce them.
	SecuritySM4 SecurityType = 1
	SecurityAES SecurityType = 2
)

var (
	ErrBadMagic         = errors.New("bad firmware magic")
	ErrShortImage       = errors.New("firmware image shorter than its header")
	ErrDigestMismatch   = errors.New("firmware digest mismatch")
	ErrSecureBootScheme = errors.New("secure-boot schemes require externally provisioned keys")
)

// Version is the four-byte firmware version stamp.
type Version [versionSize]byte

// Image is the decoded form of a stamped firmware image.
type Image struct {
	Security SecurityType
	Version  Version
	Payload  []byte
}

// Stamp wraps payload in a firmware header. Only SecurityNone is
// supported; the digest covers the version stamp and the payload.
func Stamp(payload []byte, version Version, security SecurityType) ([]byte, error) {
	if security != SecurityNone {
		return nil, fmt.Errorf("security type %d: %w", security, ErrSecureBootScheme)
	}

	data := make([]byte, 0, versionSize+len(payload))
	data = append(data, version[:]...)
	data = append(data, payload...)

	digest := sha256.Sum256(data)

	out := make([]byte, 0, HeaderSize+len(data))
	out = append(out, Magic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = binary.LittleEndian.AppendUint32(out, uint32(security))
	out = append(out, digest[:]...)
	out = append(out, make([]byte, subHeaderSize-sha256.Size)...)
	out = append(out, data...)

	return out, nil
}

// Parse decodes a stamped image and verifies its digest.
func Parse(image []byte) (Image, error) {
	if len(image) < HeaderSize+versionSize {
		return Image{}, ErrShortImage
	}

	if !bytes.Equal(image[:4], Magic) {
		return Image{}, ErrBadMagic
	}

	length := int(int32(binary.LittleEndian.Uint32(image[4:])))
	security := SecurityType(int32(binary.LittleEndian.Uint32(image[8:])))

	if security != SecurityNone {
		return Image{}, fmt.Errorf("security type %d: %w", security, ErrSecureBootScheme)
	}

	if length < versionSize || len(image)-HeaderSize < length {
		return Image{}, ErrShortImage
	}

	data := image[HeaderSize : HeaderSize+length]

	digest := sha256.Sum256(data)
	if !bytes.Equal(digest[:], image[12:12+sha256.Size]) {
		return Image{}, ErrDigestMismatch
	}

	var decoded Image

	decoded.Security = security
	copy(decoded.Version[:], data[:versionSize])
	decoded.Payload = data[versionSize:]

	return decoded, nil
}

// StampFile stamps the artifact at src into dst.
func StampFile(src, dst string, version Version, security SecurityType) error {
	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	payload, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	image, err := Stamp(payload, version, security)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", src, err)
	}

	if err := os.WriteFile(dst, image, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}

	return nil
}

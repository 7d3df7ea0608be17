package scan

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
)

type SourceKind string

const (
	LocalCamera  SourceKind = "camera"
	RelayedPhone SourceKind = "phone"
	StillImage   SourceKind = "file"
)

func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(s)); k {
	case LocalCamera, RelayedPhone, StillImage:
		return k, nil
	}
	return "", fmt.Errorf("unknown frame source %q (expected camera, phone or file)", s)
}

const jpegQuality = 80

func encodeJpeg(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CameraSource grabs a frame by running an external capture command that
// writes a single image to stdout (e.g. "fswebcam -q --no-banner -").
type CameraSource struct {
	command string
}

func NewCameraSource(command string) *CameraSource {
	return &CameraSource{command: command}
}

func (c *CameraSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	if c.command == "" {
		return nil, ErrSourceNotReady
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug("[Camera] Capture command failed: ", strings.TrimSpace(stderr.String()))
		return nil, fmt.Errorf("camera capture failed: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrSourceNotReady
	}

	img, err := imaging.Decode(bytes.NewReader(out), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("camera returned an unreadable frame: %w", err)
	}
	return encodeJpeg(img)
}

// FileSource hands out the bytes of an image file, unchanged.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) CaptureFrame(_ context.Context) ([]byte, error) {
	if f.path == "" {
		return nil, ErrSourceNotReady
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if mtype := mimetype.Detect(data); !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", f.path, mtype.String())
	}
	return data, nil
}

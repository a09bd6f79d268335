package source

import (
	"bufio"
	"bytes"
	"io"

	"github.com/buchio/rpi-camera-streamer/domain"
)

// JPEG stream markers. An MJPEG byte stream is a bare concatenation of JPEG
// images, each opening with SOI and closing with EOI.
var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// maxJPEGFrame bounds a single frame; anything larger means the stream lost
// sync and the source resynchronizes on the next SOI.
const maxJPEGFrame = 4 << 20

// MJPEGSource turns the MJPEG stdout of a capture command (rpicam-vid
// --codec mjpeg, ffmpeg -f mjpeg, ...) into one payload per JPEG image.
type MJPEGSource struct {
	proc *cmdSource
	r    *bufio.Reader
	buf  bytes.Buffer
}

// NewMJPEGSource starts the capture command. A command that cannot start is
// a fatal startup failure for the caller to report.
func NewMJPEGSource(name string, args ...string) (*MJPEGSource, error) {
	proc, err := startCommand(name, args)
	if err != nil {
		return nil, err
	}
	return &MJPEGSource{
		proc: proc,
		r:    bufio.NewReaderSize(proc.stdout, 64<<10),
	}, nil
}

// newMJPEGReader wraps a plain byte stream, used by tests.
func newMJPEGReader(r io.Reader) *MJPEGSource {
	return &MJPEGSource{r: bufio.NewReader(r)}
}

// Next returns the bytes of the next complete JPEG image. A frame that
// overruns maxJPEGFrame is discarded and reported as ErrUnavailable so the
// pump skips the cycle while the stream re-syncs.
func (s *MJPEGSource) Next() ([]byte, error) {
	if err := s.seekSOI(); err != nil {
		return nil, fatal(err)
	}

	s.buf.Reset()
	s.buf.Write(jpegSOI)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, fatal(err)
		}
		s.buf.WriteByte(b)

		if b == jpegEOI[1] {
			tail := s.buf.Bytes()
			if len(tail) >= 4 && tail[len(tail)-2] == jpegEOI[0] {
				frame := make([]byte, len(tail))
				copy(frame, tail)
				return frame, nil
			}
		}
		if s.buf.Len() > maxJPEGFrame {
			s.buf.Reset()
			return nil, domain.ErrUnavailable
		}
	}
}

// seekSOI discards bytes until the stream is positioned just past an SOI
// marker.
func (s *MJPEGSource) seekSOI() error {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b != jpegSOI[0] {
			continue
		}
		next, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if next == jpegSOI[1] {
			return nil
		}
		if next == jpegSOI[0] {
			s.r.UnreadByte()
		}
	}
}

// Close stops the capture process.
func (s *MJPEGSource) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.close()
}

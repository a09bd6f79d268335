package source

import (
	"io"
)

// DefaultBlockSamples matches the capture blocksize used by the audio
// pipeline: 2048 samples of s16le per chunk.
const DefaultBlockSamples = 2048

// PCMSource reads fixed-size blocks of signed 16-bit little-endian PCM from
// the stdout of a capture command (arecord -f S16_LE, ffmpeg -f s16le, ...).
type PCMSource struct {
	proc      *cmdSource
	r         io.Reader
	blockSize int
}

// NewPCMSource starts the capture command and reads blocks of blockSamples
// samples per channel. blockSamples below 1 uses DefaultBlockSamples.
func NewPCMSource(blockSamples, channels int, name string, args ...string) (*PCMSource, error) {
	proc, err := startCommand(name, args)
	if err != nil {
		return nil, err
	}
	s := newPCMReader(proc.stdout, blockSamples, channels)
	s.proc = proc
	return s, nil
}

// newPCMReader wraps a plain byte stream, used by tests.
func newPCMReader(r io.Reader, blockSamples, channels int) *PCMSource {
	if blockSamples < 1 {
		blockSamples = DefaultBlockSamples
	}
	if channels < 1 {
		channels = 1
	}
	return &PCMSource{
		r:         r,
		blockSize: blockSamples * channels * 2,
	}
}

// Next returns the next full PCM block. The read blocks until the capture
// process has produced a whole chunk.
func (s *PCMSource) Next() ([]byte, error) {
	block := make([]byte, s.blockSize)
	if _, err := io.ReadFull(s.r, block); err != nil {
		return nil, fatal(err)
	}
	return block, nil
}

// Close stops the capture process.
func (s *PCMSource) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.close()
}

package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// SyntheticSource is a MediaSource producing a deterministic test pattern on
// a fixed time slice. It stands in for a real capture device in the CLI and
// in tests; the platform device layer lives outside this repository.
type SyntheticSource struct {
	interval time.Duration
	size     int

	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewSyntheticSource(interval time.Duration, size int) *SyntheticSource {
	return &SyntheticSource{
		interval: interval,
		size:     size,
		chunks:   make(chan []byte, 1),
		stop:     make(chan struct{}),
	}
}

func (s *SyntheticSource) Start(ctx context.Context) error {
	go func() {
		defer close(s.chunks)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		var seq byte
		for {
			select {
			case <-ticker.C:
				chunk := make([]byte, s.size)
				for i := range chunk {
					chunk[i] = seq
				}
				seq++
				select {
				case s.chunks <- chunk:
				case <-s.stop:
					return
				case <-ctx.Done():
					return
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *SyntheticSource) Chunks() <-chan []byte { return s.chunks }

func (s *SyntheticSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// FileSource is a MediaSource replaying a pre-recorded media file in
// fixed-size slices on a fixed time slice. The chunk channel closes when the
// file is exhausted.
type FileSource struct {
	path     string
	interval time.Duration
	size     int

	file     *os.File
	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewFileSource(path string, interval time.Duration, size int) *FileSource {
	return &FileSource{
		path:     path,
		interval: interval,
		size:     size,
		chunks:   make(chan []byte, 1),
		stop:     make(chan struct{}),
	}
}

// Start opens the backing file. A missing or unreadable file is the
// device-acquisition failure of this source.
func (s *FileSource) Start(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening media file: %w", err)
	}
	s.file = f

	go func() {
		defer close(s.chunks)
		defer f.Close()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				chunk := make([]byte, s.size)
				n, err := io.ReadFull(f, chunk)
				if n > 0 {
					select {
					case s.chunks <- chunk[:n]:
					case <-s.stop:
						return
					case <-ctx.Done():
						return
					}
				}
				if err != nil {
					return
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *FileSource) Chunks() <-chan []byte { return s.chunks }

func (s *FileSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

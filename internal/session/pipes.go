package session

import (
	"io"
	"os"
	"sync"
	"time"
)

// outputPipes hands the command plain pipe write ends, so exec.Cmd.Wait
// returns as soon as the root is reaped even when background children keep
// the pipes open. The read ends are copied into the session buffers until EOF.
type outputPipes struct {
	r, w [2]*os.File
	wg   sync.WaitGroup
}

func openPipes() (*outputPipes, error) {
	p := &outputPipes{}
	for i := range p.r {
		r, w, err := os.Pipe()
		if err != nil {
			p.closeWriters()
			p.closeReaders()
			return nil, err
		}
		p.r[i], p.w[i] = r, w
	}
	return p, nil
}

// start drops the parent's copies of the write ends and begins copying.
// It must be called after the command has started.
func (p *outputPipes) start(stdout, stderr io.Writer) {
	p.closeWriters()
	for i, dst := range [2]io.Writer{stdout, stderr} {
		p.wg.Add(1)
		go func(src *os.File, dst io.Writer) {
			defer p.wg.Done()
			_, _ = io.Copy(dst, src)
		}(p.r[i], dst)
	}
}

// drain waits for both streams to reach EOF. A positive limit bounds the
// wait; streams still held open after it are closed and drain reports false.
func (p *outputPipes) drain(limit time.Duration) bool {
	defer p.closeReaders()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if limit <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (p *outputPipes) closeWriters() {
	for i, f := range p.w {
		if f != nil {
			_ = f.Close()
			p.w[i] = nil
		}
	}
}

func (p *outputPipes) closeReaders() {
	for _, f := range p.r {
		if f != nil {
			_ = f.Close()
		}
	}
}

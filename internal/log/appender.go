package log

import (
	"io"
	"sync"
)

// MultiWriter fans log output out to several writers. A failing writer
// does not stop the others.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
	closers []io.Closer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.mu.Unlock()
	return m
}

// addOwned adds a writer that Close will close.
func (m *MultiWriter) addOwned(wc io.WriteCloser) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, wc)
	m.closers = append(m.closers, wc)
	m.mu.Unlock()
	return m
}

// Close closes the writers owned by m. Writers passed to Add, such as
// os.Stdout, are left open.
func (m *MultiWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, c := range m.closers {
		if e := c.Close(); e != nil {
			err = e
		}
	}
	m.closers = nil
	return err
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 2)}
}

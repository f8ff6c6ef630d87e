package session

import "sync"

// Handle is a transient resource backing a preview of the original upload or
// of a result (a temp file, an uploaded Telegram file, a buffer). Release is
// idempotent.
type Handle interface {
	Release()
}

// HandleFunc adapts a function to Handle; the function runs at most once.
func HandleFunc(f func()) Handle {
	return &funcHandle{f: f}
}

type funcHandle struct {
	once sync.Once
	f    func()
}

func (h *funcHandle) Release() {
	h.once.Do(func() {
		if h.f != nil {
			h.f()
		}
	})
}

// Opener создаёт хэндлы превью. Фронтенд решает, что именно держать.
type Opener interface {
	OpenOriginal(name string, data []byte) Handle
	OpenResult(name string, data []byte) Handle
}

// BufferOpener держит байты в памяти и отпускает их при Release.
type BufferOpener struct{}

func (BufferOpener) OpenOriginal(name string, data []byte) Handle { return &buffer{data: data} }
func (BufferOpener) OpenResult(name string, data []byte) Handle   { return &buffer{data: data} }

type buffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *buffer) Release() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

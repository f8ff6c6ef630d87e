package session

import (
	"sync"
	"sync/atomic"

	"xray-bot/api/internal/xray"
)

// Registry держит сессии по ключу (chatID в боте). Новая сессия получает
// последний известный статус соединения.
type Registry struct {
	opener Opener
	status atomic.Value // xray.ConnectionStatus
	m      sync.Map     // int64 -> *Session

	// mu упорядочивает появление новых сессий и Broadcast
	mu sync.Mutex
}

func NewRegistry(opener Opener) *Registry {
	r := &Registry{opener: opener}
	r.status.Store(xray.StatusChecking)
	return r
}

func (r *Registry) Get(id int64) *Session {
	if v, ok := r.m.Load(id); ok {
		return v.(*Session)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, loaded := r.m.LoadOrStore(id, New(r.opener))
	s := v.(*Session)
	if !loaded {
		s.SetConnection(r.Status())
	}
	return s
}

// Status — последний статус, разосланный через Broadcast.
func (r *Registry) Status() xray.ConnectionStatus {
	return r.status.Load().(xray.ConnectionStatus)
}

// Broadcast раздаёт статус соединения всем живым сессиям.
func (r *Registry) Broadcast(st xray.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Store(st)
	r.m.Range(func(_, v any) bool {
		v.(*Session).SetConnection(st)
		return true
	})
}

// Drop закрывает сессию и забывает её.
func (r *Registry) Drop(id int64) {
	if v, ok := r.m.LoadAndDelete(id); ok {
		v.(*Session).Close()
	}
}

// CloseAll — при остановке процесса.
func (r *Registry) CloseAll() {
	r.m.Range(func(k, v any) bool {
		v.(*Session).Close()
		r.m.Delete(k)
		return true
	})
}

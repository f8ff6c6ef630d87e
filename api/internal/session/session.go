package session

import (
	"errors"
	"fmt"
	"sync"

	"xray-bot/api/internal/xray"
)

type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "fileSelected"
	StateSubmitting   State = "submitting"
	StateResultReady  State = "resultReady"
	StateError        State = "error"
)

var (
	ErrBusy           = errors.New("a request is already in flight")
	ErrSubmitDisabled = errors.New("submit is disabled")
	ErrNoImage        = errors.New("no result image to download")
	ErrClosed         = errors.New("session closed")
	ErrStale          = errors.New("response arrived after the session moved on")
)

// Session is the view state of one page: one chat in the bot, one run of the
// CLI. At most one request is in flight per session.
type Session struct {
	mu sync.Mutex

	state  State
	conn   xray.ConnectionStatus
	route  xray.Route
	file   *xray.SelectedFile
	result *xray.Result
	err    error
	closed bool
	// запрос может пережить Reset; новый Submit ждёт его завершения
	inflight bool

	opener   Opener
	original Handle
	resultH  Handle
}

func New(opener Opener) *Session {
	if opener == nil {
		opener = BufferOpener{}
	}
	return &Session{
		state:  StateIdle,
		conn:   xray.StatusChecking,
		route:  xray.RouteDetection,
		opener: opener,
	}
}

// Snapshot — неизменяемая копия состояния для рендера.
type Snapshot struct {
	State      State
	Connection xray.ConnectionStatus
	Route      xray.Route
	File       *xray.SelectedFile
	Result     *xray.Result
	Err        error
	CanSubmit  bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:      s.state,
		Connection: s.conn,
		Route:      s.route,
		File:       s.file,
		Result:     s.result,
		Err:        s.err,
		CanSubmit:  s.canSubmit(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetConnection(st xray.ConnectionStatus) {
	s.mu.Lock()
	s.conn = st
	s.mu.Unlock()
}

func (s *Session) Connection() xray.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// SetRoute выбирает сценарий: detection или classification. Меняется только вне запроса.
func (s *Session) SetRoute(r xray.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return ErrBusy
	}
	if r != s.route {
		s.route = r
		s.releaseResult()
		if s.state == StateResultReady {
			s.state = StateFileSelected
		}
	}
	return nil
}

func (s *Session) Route() xray.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// CanSubmit is true only with a selected file and a connected backend.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSubmit()
}

func (s *Session) canSubmit() bool {
	if s.conn != xray.StatusConnected || s.file == nil {
		return false
	}
	// из error можно повторить отправку того же файла
	return s.state == StateFileSelected || s.state == StateError
}

// Select validates f. A valid file moves the session to fileSelected, an
// invalid one to error with no file kept. Previous handles are released
// either way.
func (s *Session) Select(f xray.SelectedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state == StateSubmitting {
		return ErrBusy
	}

	s.releaseAll()
	s.file = nil
	s.result = nil

	if err := xray.Validate(f); err != nil {
		s.state = StateError
		s.err = err
		return err
	}

	s.file = &f
	s.original = s.opener.OpenOriginal(f.Name, f.Data)
	s.err = nil
	s.state = StateFileSelected
	return nil
}

// Submit moves to submitting and returns the file and route to send.
func (s *Session) Submit() (xray.SelectedFile, xray.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return xray.SelectedFile{}, "", ErrClosed
	}
	if s.state == StateSubmitting || s.inflight {
		return xray.SelectedFile{}, "", ErrBusy
	}
	if !s.canSubmit() {
		return xray.SelectedFile{}, "", fmt.Errorf("%w: state %s, connection %s", ErrSubmitDisabled, s.state, s.conn)
	}
	s.state = StateSubmitting
	s.inflight = true
	s.err = nil
	return *s.file, s.route, nil
}

// Succeed stores res and releases the previous result handle. Outside
// submitting (e.g. after a reset during the request) the result is dropped
// with ErrStale.
func (s *Session) Succeed(res xray.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if s.state != StateSubmitting {
		return fmt.Errorf("%w: state %s", ErrStale, s.state)
	}
	s.releaseResult()
	s.result = &res
	if res.IsImage() {
		s.resultH = s.opener.OpenResult(xray.ResultFileName, res.Image)
	}
	s.state = StateResultReady
	return nil
}

// Fail records err; the selected file is kept so the user can retry.
func (s *Session) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if s.state != StateSubmitting {
		return fmt.Errorf("%w: state %s", ErrStale, s.state)
	}
	s.err = err
	s.state = StateError
	return nil
}

// Download returns the result image and its file name.
func (s *Session) Download() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResultReady || s.result == nil || !s.result.IsImage() {
		return nil, "", ErrNoImage
	}
	return s.result.Image, xray.ResultFileName, nil
}

// Reset returns to idle from any state and releases every held handle.
// Calling it twice is a no-op the second time.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseAll()
	s.file = nil
	s.result = nil
	s.err = nil
	s.state = StateIdle
}

// Close — teardown страницы.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseAll()
	s.file = nil
	s.result = nil
	s.closed = true
}

func (s *Session) releaseResult() {
	if s.resultH != nil {
		s.resultH.Release()
		s.resultH = nil
	}
	s.result = nil
}

func (s *Session) releaseAll() {
	s.releaseResult()
	if s.original != nil {
		s.original.Release()
		s.original = nil
	}
}

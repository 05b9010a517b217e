package core

import (
	"sort"
	"sync"
)

// Session is a registry of the processes being debugged.
//
// Threads do not keep a pointer to their process: they look it up in the
// session every time they need it, so that a thread outliving its process
// observes proc.ErrProcessGone instead of a stale process.
type Session struct {
	mu    sync.Mutex
	procs map[int]*Process
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{procs: make(map[int]*Process)}
}

// Process returns the process with the given pid.
func (s *Session) Process(pid int) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Pids returns the pids of all the processes of the session, sorted.
func (s *Session) Pids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

func (s *Session) add(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.procs[p.pid]; exists {
		return false
	}
	s.procs[p.pid] = p
	return true
}

func (s *Session) remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, pid)
}

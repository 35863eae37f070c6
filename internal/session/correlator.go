package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/parmline"
)

// SendWithWait sends a command with an appended id=N correlation
// parameter, where N cycles through [1,127], and waits up to 8s for the
// matching begin/end response block to close. If returnResults is true,
// the lines inside that block are collected and returned instead of
// being dispatched as events.
func (s *Server) SendWithWait(ctx context.Context, line string, returnResults bool) ([]parmline.Line, error) {
	s.mu.Lock()
	s.curID++
	if s.curID > s.maxID {
		s.curID = 1
	}
	id := s.curID
	s.mu.Unlock()

	line = strings.TrimRight(line, " \t") + fmt.Sprintf(" id=%d", id)
	s.evIdblockDone.Clear()

	if returnResults {
		s.startCollecting(id)
	} else {
		s.mu.Lock()
		s.waitID = id
		s.mu.Unlock()
	}

	if err := s.Send(ctx, line); err != nil {
		s.Disconnect()
		return nil, err
	}

	if !s.evIdblockDone.Wait(8 * time.Second) {
		cmd := line
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			cmd = line[:i]
		}
		s.errorFromEvent(fmt.Sprintf("Timeout on %s command", cmd))
		s.mu.Lock()
		s.waitID = 0
		s.mu.Unlock()
	}

	if returnResults {
		return s.stopCollecting(), nil
	}
	return nil, nil
}

func (s *Server) startCollecting(id int) {
	s.evIdblockDone.Clear()
	s.mu.Lock()
	s.waitID = id
	s.outputCollection = nil
	s.collecting = 1
	s.mu.Unlock()
}

func (s *Server) stopCollecting() []parmline.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collecting = 0
	out := s.outputCollection
	s.outputCollection = nil
	return out
}

// handleCollection manages the transition of a correlated response
// collection (collecting 0 -> 1 -> 2 -> 0) and eats the begin/end
// frames and interior lines that belong to it. It returns true when the
// line has been consumed and must not be dispatched as a normal event.
func (s *Server) handleCollection(line parmline.Line) bool {
	isConnect := line.Event == "_connected_"
	isDisconnect := line.Event == "_disconnected_"

	s.mu.Lock()
	collecting := s.collecting
	waitID := s.waitID
	s.mu.Unlock()

	if collecting == 0 {
		return false
	}

	idParm := line.Parms().GetDefault("id", "")

	if collecting == 1 {
		if line.Event == "begin" && idParm == strconv.Itoa(waitID) {
			s.mu.Lock()
			s.outputCollection = nil
			s.collecting = 2
			s.mu.Unlock()
			s.evIdblockDone.Clear()
			return true
		}
		if isConnect || isDisconnect {
			s.errorFromEvent("Output collection aborted by server connection interruption")
			s.mu.Lock()
			s.collecting = 0
			s.waitID = 0
			s.mu.Unlock()
			s.evIdblockDone.Set()
		}
		return false
	}

	// collecting == 2
	if isConnect || isDisconnect || (line.Event == "end" && idParm == strconv.Itoa(waitID)) {
		s.mu.Lock()
		s.collecting = 0
		s.waitID = 0
		s.mu.Unlock()
		if isConnect || isDisconnect {
			s.errorFromEvent("Output collection truncated by server connection interruption")
			s.evIdblockDone.Set()
			return false
		}
		s.evIdblockDone.Set()
		return true
	}

	s.mu.Lock()
	s.outputCollection = append(s.outputCollection, line)
	s.mu.Unlock()
	return true
}

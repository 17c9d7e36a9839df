package ipc

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/daemon"
	"github.com/rybkr/timelapse/internal/errkind"
)

// requestTimeout bounds how long a single verb is allowed to run before the
// connection is abandoned, so one stuck client can't wedge the daemon's
// socket loop.
const requestTimeout = 2 * time.Minute

// Server accepts connections on a Unix socket and dispatches each request
// to the daemon, grounded on the teacher's HTTP handler's
// read-request/dispatch/write-response shape, collapsed from routed HTTP
// handlers to a single gob-framed dispatch switch.
type Server struct {
	daemon *daemon.Daemon
	logger *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer constructs a Server bound to d.
func NewServer(d *daemon.Daemon, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{daemon: d, logger: logger}
}

// ListenAndServe listens on socketPath (removing a stale socket left behind
// by an unclean shutdown) and serves connections until Close is called.
func (s *Server) ListenAndServe(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		os.Remove(socketPath) //nolint:errcheck // best effort cleanup of a stale socket
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return errkind.Wrap(errkind.IoError, err, "ipc: listen on "+socketPath)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && !ne.Temporary() { //nolint:staticcheck // Temporary is deprecated but still the simplest signal Close() closed the listener
				return nil
			}
			s.logger.Error("ipc: accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Warn("ipc: bad request frame", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp := s.dispatch(ctx, req)
	if err := WriteFrame(conn, &resp); err != nil {
		s.logger.Warn("ipc: write response failed", "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Verb {
	case VerbStatus:
		return s.handleStatus()
	case VerbLog:
		return s.handleLog(req)
	case VerbInfo:
		return s.handleInfo(req)
	case VerbFlush:
		return s.handleFlush(ctx, req)
	case VerbRestore:
		return s.handleRestore(ctx, req)
	case VerbDiff:
		return s.handleDiff(req)
	case VerbPin:
		return s.handlePin(req)
	case VerbUnpin:
		return s.handleUnpin(req)
	case VerbGC:
		return s.handleGC()
	case VerbPublish:
		return s.handlePublish(req)
	case VerbPush:
		return s.handlePush(req)
	case VerbPull:
		return s.handlePull(req)
	default:
		return errResponse(errkind.New(errkind.Unknown, "ipc: unrecognized verb "+string(req.Verb)))
	}
}

func (s *Server) handleStatus() Response {
	head, err := s.daemon.Repo().ReadHead()
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Status: &StatusInfo{
		Running:         true,
		HeadID:          head,
		CheckpointCount: len(s.daemon.Journal().All()),
		DeferredPaths:   s.daemon.DeferredCount(),
	}}
}

func (s *Server) handleLog(req Request) Response {
	var entries []checkpoint.Checkpoint = s.daemon.Journal().All()
	if req.N > 0 && req.N < len(entries) {
		entries = entries[len(entries)-req.N:]
	}
	return Response{OK: true, Log: entries}
}

func (s *Server) handleInfo(req Request) Response {
	id, err := ResolveRef(req.Ref, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(req.Ref, err)
	}
	cp, ok := s.daemon.Journal().Get(id)
	if !ok {
		return errResponse(errkind.New(errkind.NotFound, "ipc: checkpoint "+id.String()+" not in journal"))
	}
	return Response{OK: true, Info: &cp}
}

func (s *Server) handleFlush(ctx context.Context, req Request) Response {
	cp, err := s.daemon.Flush(ctx, req.Paths)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Checkpoint: cp}
}

func (s *Server) handleRestore(ctx context.Context, req Request) Response {
	id, err := ResolveRef(req.Ref, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(req.Ref, err)
	}
	cp, ok := s.daemon.Journal().Get(id)
	if !ok {
		return errResponse(errkind.New(errkind.NotFound, "ipc: checkpoint "+id.String()+" not in journal"))
	}

	gcLock, err := s.daemon.Repo().AcquireGCLock()
	if err != nil {
		return errResponse(err)
	}
	restoreErr := Restore(s.daemon.Repo().Store(), s.daemon.Matcher(), s.daemon.Repo().Root(), cp.Root)
	gcLock.Release() //nolint:errcheck
	if restoreErr != nil {
		return errResponse(restoreErr)
	}

	if err := s.daemon.Repo().WriteHead(cp.ID); err != nil {
		return errResponse(err)
	}
	followUp, err := s.daemon.FlushRestore(ctx, cp.TouchedPaths)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Checkpoint: followUp}
}

func (s *Server) handleDiff(req Request) Response {
	idA, err := ResolveRef(req.Ref, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(req.Ref, err)
	}
	idB, err := ResolveRef(req.RefB, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(req.RefB, err)
	}
	cpA, ok := s.daemon.Journal().Get(idA)
	if !ok {
		return errResponse(errkind.New(errkind.NotFound, "ipc: checkpoint "+idA.String()+" not in journal"))
	}
	cpB, ok := s.daemon.Journal().Get(idB)
	if !ok {
		return errResponse(errkind.New(errkind.NotFound, "ipc: checkpoint "+idB.String()+" not in journal"))
	}
	entries, err := Diff(s.daemon.Repo().Store(), cpA.Root, cpB.Root)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Diff: entries}
}

func (s *Server) handlePin(req Request) Response {
	id, err := ResolveRef(req.Ref, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(req.Ref, err)
	}
	if err := s.daemon.Repo().Pin(req.PinName, id); err != nil {
		return errResponse(err)
	}
	if err := s.daemon.Journal().SetPinned(id, true, req.PinName); err != nil {
		return errResponse(err)
	}
	pins, err := s.daemon.Repo().ListPins()
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Pins: pinsAsStrings(pins)}
}

func (s *Server) handleUnpin(req Request) Response {
	if err := s.daemon.Repo().Unpin(req.PinName); err != nil {
		return errResponse(err)
	}
	pins, err := s.daemon.Repo().ListPins()
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Pins: pinsAsStrings(pins)}
}

func (s *Server) handleGC() Response {
	result, err := s.daemon.RunRetention()
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, GC: &result}
}

// handlePublish materializes every checkpoint from req.Ref (the older end
// of the range, defaulting to the first ever checkpoint) through req.RefB
// (the newer end, defaulting to HEAD) as shadow-repo commits, in order,
// and returns the newest one's commit id.
func (s *Server) handlePublish(req Request) Response {
	newest := req.RefB
	if newest == "" {
		newest = "HEAD"
	}
	idNewest, err := ResolveRef(newest, s.daemon.Journal(), s.daemon.Repo())
	if err != nil {
		return s.errResponseWithSuggestions(newest, err)
	}

	var idOldest checkpoint.ID
	if req.Ref != "" {
		idOldest, err = ResolveRef(req.Ref, s.daemon.Journal(), s.daemon.Repo())
		if err != nil {
			return s.errResponseWithSuggestions(req.Ref, err)
		}
	}

	var chain []checkpoint.Checkpoint
	id := idNewest
	for {
		cp, ok := s.daemon.Journal().Get(id)
		if !ok {
			return errResponse(errkind.New(errkind.NotFound, "ipc: checkpoint "+id.String()+" not in journal"))
		}
		chain = append(chain, cp)
		if id == idOldest || cp.Parent.IsZero() {
			break
		}
		id = cp.Parent
	}

	var commitID string
	for i := len(chain) - 1; i >= 0; i-- {
		hash, err := s.daemon.Publish().Publish(chain[i])
		if err != nil {
			return errResponse(err)
		}
		commitID = hash.String()
	}
	return Response{OK: true, CommitID: commitID}
}

func (s *Server) handlePush(req Request) Response {
	remote := s.remoteName(req)
	if err := s.daemon.Publish().Push(remote, req.RemoteURL); err != nil {
		return errResponse(err)
	}
	return Response{OK: true}
}

func (s *Server) handlePull(req Request) Response {
	remote := s.remoteName(req)
	if err := s.daemon.Publish().Pull(remote, req.RemoteURL); err != nil {
		return errResponse(err)
	}
	return Response{OK: true}
}

func (s *Server) remoteName(req Request) string {
	if req.Remote != "" {
		return req.Remote
	}
	if def := s.daemon.Repo().Config().Publish.DefaultRemote; def != "" {
		return def
	}
	return "origin"
}

func (s *Server) errResponseWithSuggestions(ref string, err error) Response {
	resp := errResponse(err)
	if resp.ErrorKind == errkindName(errkind.AmbiguousRef) || resp.ErrorKind == errkindName(errkind.NotFound) {
		resp.Suggestions = Suggest(ref, s.daemon.Journal(), s.daemon.Repo())
	}
	return resp
}

func errkindName(k errkind.Kind) string { return k.String() }

func pinsAsStrings(pins map[string]checkpoint.ID) map[string]string {
	out := make(map[string]string, len(pins))
	for name, id := range pins {
		out[name] = id.String()
	}
	return out
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error(), ErrorKind: errkind.KindOf(err).String()}
}

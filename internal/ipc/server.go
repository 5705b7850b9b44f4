package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"mediaforge/internal/api"
	"mediaforge/internal/daemon"
	"mediaforge/internal/logging"
	"mediaforge/internal/logs"
	"mediaforge/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, control: d.Control(), logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Open client
// connections are served until their peers hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun mediaforge stop"))
	}
}

type service struct {
	daemon  *daemon.Daemon
	control *api.Control
	logger  *slog.Logger
	ctx     context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	out, err := s.control.Enqueue(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Cancel(req JobRequest, resp *JobResponse) error {
	job, err := s.control.Cancel(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = job
	return nil
}

func (s *service) Get(req JobRequest, resp *JobResponse) error {
	job, err := s.control.GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = job
	return nil
}

func (s *service) List(req ListRequest, resp *JobListResponse) error {
	statuses, err := api.ParseStatuses(req.Statuses...)
	if err != nil {
		return err
	}
	jobs, err := s.control.ListJobs(s.ctx, queue.ListFilter{Statuses: statuses, Type: req.Type, Limit: req.Limit})
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (s *service) Pending(_ EmptyRequest, resp *JobListResponse) error {
	jobs, err := s.control.ListPending(s.ctx)
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (s *service) Running(_ EmptyRequest, resp *JobListResponse) error {
	jobs, err := s.control.ListRunning(s.ctx)
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (s *service) Retry(req RetryRequest, resp *CountResponse) error {
	n, err := s.control.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Count = n
	return nil
}

func (s *service) Purge(req PurgeRequest, resp *CountResponse) error {
	before, err := api.ParseTime(req.Before)
	if err != nil {
		return err
	}
	if before.IsZero() {
		before = time.Now()
	}
	n, err := s.control.PurgeFinished(s.ctx, before)
	if err != nil {
		return err
	}
	resp.Count = n
	return nil
}

func (s *service) QueueHealth(_ EmptyRequest, resp *QueueHealthResponse) error {
	health, err := s.control.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	*resp = health
	return nil
}

func (s *service) DatabaseHealth(_ EmptyRequest, resp *DatabaseHealthReply) error {
	health, err := s.control.DatabaseHealth(s.ctx)
	if err != nil {
		return err
	}
	*resp = health
	return nil
}

func (s *service) RegisterMedia(req RegisterMediaRequest, resp *RegisterMediaReply) error {
	out, err := s.control.RegisterMedia(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Media(req MediaRequest, resp *MediaResponse) error {
	media, err := s.control.GetMedia(s.ctx, req.ID)
	if err != nil {
		return err
	}
	*resp = media
	return nil
}

func (s *service) LinkLabels(req LabelRequest, resp *MediaResponse) error {
	media, err := s.control.LinkLabels(s.ctx, req.MediaID, req.Kind, req.Names)
	if err != nil {
		return err
	}
	*resp = media
	return nil
}

func (s *service) Artifacts(req MediaRequest, resp *ArtifactListResponse) error {
	out, err := s.control.ArtifactsForMedia(s.ctx, req.ID)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	out, err := s.daemon.TailLogs(s.ctx, logs.TailOptions{
		Offset:   req.Offset,
		Limit:    req.Limit,
		Follow:   req.Follow,
		Wait:     time.Duration(req.WaitMillis) * time.Millisecond,
		Contains: req.Contains,
	})
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

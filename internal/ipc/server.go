package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"rchub/internal/backend"
	"rchub/internal/daemon"
	"rchub/internal/history"
	"rchub/internal/jobs"
	"rchub/internal/logging"
	"rchub/internal/logs"
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
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Rchub", srv); err != nil {
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun rchub stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) BackendList(_ BackendListRequest, resp *BackendListResponse) error {
	resp.Active = s.daemon.Status(s.ctx).ActiveBackend
	resp.Backends = s.daemon.Backends()
	return nil
}

func (s *service) BackendAdd(req BackendAddRequest, resp *BackendAddResponse) error {
	err := s.daemon.AddBackend(backend.Backend{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	resp.Added = true
	s.log().Info("backend registered via IPC",
		logging.String(logging.FieldEventType, "backend_add"),
		logging.String(logging.FieldBackend, req.Name))
	return nil
}

func (s *service) BackendUpdate(req BackendUpdateRequest, resp *BackendUpdateResponse) error {
	err := s.daemon.UpdateBackend(backend.Backend{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	resp.Updated = true
	s.log().Info("backend updated via IPC",
		logging.String(logging.FieldEventType, "backend_update"),
		logging.String(logging.FieldBackend, req.Name))
	return nil
}

func (s *service) BackendRemove(req BackendRemoveRequest, resp *BackendRemoveResponse) error {
	if err := s.daemon.RemoveBackend(req.Name); err != nil {
		return err
	}
	resp.Removed = true
	s.log().Info("backend removed via IPC",
		logging.String(logging.FieldEventType, "backend_remove"),
		logging.String(logging.FieldBackend, req.Name))
	return nil
}

func (s *service) BackendSwitch(req BackendSwitchRequest, resp *BackendSwitchResponse) error {
	if err := s.daemon.SwitchBackend(s.ctx, req.Name); err != nil {
		return err
	}
	resp.Active = req.Name
	s.log().Info("backend switched via IPC",
		logging.String(logging.FieldEventType, "backend_switch"),
		logging.String(logging.FieldBackend, req.Name))
	return nil
}

func (s *service) BackendCheck(_ BackendCheckRequest, resp *BackendCheckResponse) error {
	resp.Backends = s.daemon.CheckBackends(s.ctx)
	return nil
}

func (s *service) JobList(_ JobListRequest, resp *JobListResponse) error {
	resp.Jobs = s.daemon.Jobs()
	return nil
}

func (s *service) JobSubmit(req JobSubmitRequest, resp *JobSubmitResponse) error {
	id, err := s.daemon.SubmitJob(s.ctx, jobs.SubmitRequest{
		Kind:        req.Kind,
		Source:      req.Source,
		Destination: req.Destination,
		Remote:      req.Remote,
		Profile:     req.Profile,
		Args:        req.Args,
	})
	if err != nil {
		return err
	}
	resp.JobID = id
	s.log().Info("job submitted via IPC",
		logging.String(logging.FieldEventType, "job_submit"),
		logging.Uint64(logging.FieldJobID, id))
	return nil
}

func (s *service) JobStop(req JobStopRequest, resp *JobStopResponse) error {
	if req.JobID == 0 {
		return errors.New("job stop requires a job id")
	}
	if err := s.daemon.StopJob(s.ctx, req.JobID); err != nil {
		return err
	}
	resp.Stopped = true
	s.log().Info("job stopped via IPC",
		logging.String(logging.FieldEventType, "job_stop"),
		logging.Uint64(logging.FieldJobID, req.JobID))
	return nil
}

func (s *service) JobHistory(req JobHistoryRequest, resp *JobHistoryResponse) error {
	rows, err := s.daemon.History(s.ctx, history.Filter{
		Backend: req.Backend,
		Remote:  req.Remote,
		Status:  req.Status,
		Limit:   req.Limit,
	})
	if err != nil {
		return err
	}
	resp.Jobs = rows
	return nil
}

func (s *service) RemoteList(_ RemoteListRequest, resp *RemoteListResponse) error {
	resp.Remotes = s.daemon.Remotes()
	return nil
}

func (s *service) MountList(_ MountListRequest, resp *MountListResponse) error {
	resp.Mounts = s.daemon.Mounts()
	return nil
}

func (s *service) ServeList(_ ServeListRequest, resp *ServeListResponse) error {
	resp.Serves = s.daemon.Serves()
	return nil
}

func (s *service) TaskList(_ TaskListRequest, resp *TaskListResponse) error {
	resp.Tasks = s.daemon.Tasks()
	return nil
}

func (s *service) TaskToggle(req TaskToggleRequest, resp *TaskToggleResponse) error {
	status, err := s.daemon.ToggleTask(req.ID)
	if err != nil {
		return err
	}
	resp.ID = req.ID
	resp.Status = string(status)
	s.log().Info("task toggled via IPC",
		logging.String(logging.FieldEventType, "task_toggle"),
		logging.String(logging.FieldTaskID, req.ID),
		logging.String("status", string(status)))
	return nil
}

func (s *service) CronValidate(req CronValidateRequest, resp *CronValidateResponse) error {
	next, err := s.daemon.ValidateCron(req.Expression)
	if err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		return nil
	}
	resp.Valid = true
	resp.NextRun = next
	return nil
}

func (s *service) Refresh(_ RefreshRequest, resp *RefreshResponse) error {
	if err := s.daemon.Refresh(s.ctx); err != nil {
		return err
	}
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

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

	"photopipe/internal/daemon"
	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
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
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
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
					logging.ErrorHint("check socket permissions and restart the daemon if needed"),
				)
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
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.ErrorHint("remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("coordinator start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "coordinator started"
	s.log().Info("coordinator started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("coordinator stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("coordinator stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	*resp = StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		Coordinator:  status.Coordinator,
		StoreBackend: status.StoreBackend,
		DatabasePath: status.DatabasePath,
		LockPath:     status.LockFilePath,
		Queue:        status.Queue,
		TaskCounts:   status.TaskCounts,
	}
	return nil
}

func (s *service) TaskList(req TaskListRequest, resp *TaskListResponse) error {
	tasks, err := s.daemon.Store().ListTasks(s.ctx).Unwrap()
	if err != nil {
		return err
	}
	wanted := make(map[pipeline.StepIndex]struct{}, len(req.Steps))
	for _, raw := range req.Steps {
		step, err := pipeline.ParseStepIndex(raw)
		if err != nil {
			return err
		}
		wanted[step] = struct{}{}
	}
	resp.Tasks = make([]pipeline.Task, 0, len(tasks))
	for _, task := range tasks {
		if len(wanted) > 0 {
			if _, ok := wanted[task.Step]; !ok {
				continue
			}
		}
		resp.Tasks = append(resp.Tasks, task)
	}
	return nil
}

func (s *service) TaskRestart(req TaskRestartRequest, resp *TaskRestartResponse) error {
	if !req.All && req.ID <= 0 {
		return fmt.Errorf("invalid task id %d", req.ID)
	}
	res := s.daemon.Store().RestartTask(s.ctx, taskstore.RestartRequest{TaskID: req.ID, All: req.All})
	count, err := res.Unwrap()
	if err != nil {
		return err
	}
	resp.Restarted = count
	resp.Message = res.Message
	s.log().Info("tasks restarted via IPC",
		logging.Int64("restarted", count),
		logging.Bool("all", req.All),
		logging.String(logging.FieldEventType, "task_restart"),
	)
	return nil
}

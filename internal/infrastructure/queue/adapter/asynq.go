package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
)

// Options configures the asynq client, server and scheduler.
type Options struct {
	RedisURL    string
	Concurrency int
	// Queues is a weight list like "critical=6,default=3,low=1".
	Queues string
	Logger *slog.Logger
}

func (o Options) redisOpt() (asynq.RedisConnOpt, error) {
	if o.RedisURL == "" {
		return nil, errors.New("asynq: redis url is empty")
	}
	opt, err := asynq.ParseRedisURI(o.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return opt, nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// ===================== Client =====================

// AsynqClient implements port.Client on top of asynq.
type AsynqClient struct {
	client *asynq.Client
}

func NewAsynqClient(o Options) (*AsynqClient, error) {
	opt, err := o.redisOpt()
	if err != nil {
		return nil, err
	}
	return &AsynqClient{client: asynq.NewClient(opt)}, nil
}

// Ensure interface compliance at compile time
var _ port.Client = (*AsynqClient)(nil)

func (a *AsynqClient) Enqueue(ctx context.Context, t port.Task, opt port.EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), toAsynqOptions(opt)...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

func toAsynqOptions(op port.EnqueueOption) []asynq.Option {
	var opts []asynq.Option
	if !op.ProcessAt.IsZero() {
		opts = append(opts, asynq.ProcessAt(op.ProcessAt))
	} else if op.ProcessIn > 0 {
		opts = append(opts, asynq.ProcessIn(op.ProcessIn))
	}
	if op.Queue != "" {
		opts = append(opts, asynq.Queue(op.Queue))
	}
	if op.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(op.MaxRetry))
	}
	if op.UniqueTTL > 0 {
		opts = append(opts, asynq.Unique(op.UniqueTTL))
	}
	if op.Timeout > 0 {
		opts = append(opts, asynq.Timeout(op.Timeout))
	}
	if op.Retention > 0 {
		opts = append(opts, asynq.Retention(op.Retention))
	}
	return opts
}

// ===================== Server =====================

// AsynqServer implements port.Server on top of asynq.
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqServer(o Options) (*AsynqServer, error) {
	opt, err := o.redisOpt()
	if err != nil {
		return nil, err
	}
	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	// Consume both queues by default so tasks are picked up when running the API alone.
	queues := map[string]int{"default": 1, "chat": 1}
	if parsed := parseQueueWeights(o.Queues); len(parsed) > 0 {
		queues = parsed
	}

	logger := o.logger()
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		Logger:      slogAdapter{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	return &AsynqServer{server: srv, mux: asynq.NewServeMux()}, nil
}

// Ensure interface compliance at compile time
var _ port.Server = (*AsynqServer)(nil)

func (s *AsynqServer) Register(taskType string, h port.Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		err := h(ctx, port.Task{Type: t.Type(), Payload: t.Payload()})
		if errors.Is(err, port.ErrSkipRetry) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	})
}

// Run starts the workers and blocks until ctx is canceled, then shuts down gracefully.
func (s *AsynqServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// ===================== Scheduler =====================

// AsynqScheduler implements port.Scheduler with asynq's periodic task scheduler.
type AsynqScheduler struct {
	scheduler *asynq.Scheduler
}

func NewAsynqScheduler(o Options) (*AsynqScheduler, error) {
	opt, err := o.redisOpt()
	if err != nil {
		return nil, err
	}
	logger := o.logger()
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger: slogAdapter{logger: logger},
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Warn("periodic task not enqueued", "error", err)
			}
		},
	})
	return &AsynqScheduler{scheduler: s}, nil
}

// Ensure interface compliance at compile time
var _ port.Scheduler = (*AsynqScheduler)(nil)

func (s *AsynqScheduler) Register(spec string, t port.Task, opt port.EnqueueOption) (string, error) {
	return s.scheduler.Register(spec, asynq.NewTask(t.Type, t.Payload), toAsynqOptions(opt)...)
}

func (s *AsynqScheduler) Run(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.scheduler.Shutdown()
	return nil
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...), "component", "asynq") }

// parseQueueWeights parses strings like "critical=6,default=3,low=1" into a map.
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}

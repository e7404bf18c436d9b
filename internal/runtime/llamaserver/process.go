package llamaserver

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// process is a llama-server child owned by one handle.
type process struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
	stderr  *tailBuffer
	exited  chan struct{}
	waitErr error
	log     zerolog.Logger
}

// spawnArgs describes one llama-server launch.
type spawnArgs struct {
	bin       string
	modelPath string
	host      string
	port      int
	ctxSize   int
	threads   int
	gpuLayers int
	cacheType string
	extra     []string
}

func (s spawnArgs) argv() []string {
	args := []string{
		"-m", s.modelPath,
		"--host", s.host,
		"--port", strconv.Itoa(s.port),
	}
	if s.ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(s.ctxSize))
	}
	if s.threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.threads))
	}
	args = append(args, "-ngl", strconv.Itoa(s.gpuLayers))
	if s.cacheType != "" {
		args = append(args, "--cache-type-k", s.cacheType, "--cache-type-v", s.cacheType)
	}
	return append(args, s.extra...)
}

func startProcess(sa spawnArgs, log zerolog.Logger) (*process, error) {
	cmd := exec.Command(sa.bin, sa.argv()...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &process{
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(sa.host, strconv.Itoa(sa.port))),
		pid:     cmd.Process.Pid,
		stderr:  stderr,
		exited:  make(chan struct{}),
		log:     log,
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	log.Info().Str("event", "spawn_start").Str("model_path", sa.modelPath).Int("pid", p.pid).Str("url", p.baseURL).Msg("llama-server started")
	return p, nil
}

// waitReady polls the health endpoint until it succeeds, the process exits,
// the deadline passes or ctx ends.
func (p *process) waitReady(ctx context.Context, c *client, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		hctx, cancel := context.WithTimeout(ctx, time.Second)
		err := c.health(hctx)
		cancel()
		if err == nil {
			p.log.Info().Str("event", "spawn_ready").Int("pid", p.pid).Str("url", p.baseURL).Msg("llama-server ready")
			return nil
		}
		select {
		case <-p.exited:
			if p.waitErr != nil {
				return fmt.Errorf("llama-server exited early: %v; stderr tail: %s", p.waitErr, p.stderr.String())
			}
			return fmt.Errorf("llama-server exited before ready: %s", p.baseURL)
		case <-deadline.C:
			p.stop()
			return fmt.Errorf("llama-server not ready in time: %s", p.baseURL)
		case <-ctx.Done():
			p.stop()
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// stop sends SIGTERM, then kills the process if it has not exited in 2s.
func (p *process) stop() {
	select {
	case <-p.exited:
		return
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	p.log.Info().Str("event", "spawn_stop").Int("pid", p.pid).Msg("llama-server stopped")
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.n:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/twenty48/eval"
	"github.com/brensch/twenty48/executor/convert"
	"github.com/brensch/twenty48/game"
)

const (
	InputSize = convert.FloatSize
	ValueSize = 1
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClientClosed = errors.New("onnx client closed")

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	// CUDA tries to append the CUDA execution provider.
	CUDA   bool
	Logger *slog.Logger
}

type inferenceRequest struct {
	input    *[]float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	value float32
	err   error
}

// RuntimeStats describe batching behaviour since the client started.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// OnnxClient evaluates boards with an ONNX value network, batching
// concurrent requests into one session run.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	quit         chan struct{}
	loopDone     chan struct{}
	closeOnce    sync.Once
	cfg          OnnxClientConfig

	batches   atomic.Int64
	items     atomic.Int64
	runNanos  atomic.Int64
	lastBatch atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}

	if runtime.GOOS == "linux" {
		useLocalRuntime()
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	session, err := newSession(modelPath, cfg)
	if err != nil {
		return nil, err
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

// newSession opens a single-threaded session with one "input" tensor and
// one "value" output.
func newSession(modelPath string, cfg OnnxClientConfig) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Searchers share the process with the sessions.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}

	if cfg.CUDA {
		if cuda, err := ort.NewCUDAProviderOptions(); err != nil {
			cfg.Logger.Warn("cuda options unavailable", "error", err)
		} else {
			defer cuda.Destroy()
			if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
				cfg.Logger.Warn("cuda provider rejected", "error", err)
			} else {
				cfg.Logger.Info("cuda provider enabled")
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"value"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// useLocalRuntime points ORT at a libonnxruntime next to the binary or in a
// local python venv, unless ORT_SHARED_LIBRARY_PATH names one already.
func useLocalRuntime() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dirs := append([]string{cwd}, lo.FlatMap([]string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
	}, func(pattern string, _ int) []string {
		matches, _ := filepath.Glob(pattern)
		return matches
	})...)

	existing := strings.Split(os.Getenv("LD_LIBRARY_PATH"), ":")
	added := lo.Filter(lo.Uniq(dirs), func(d string, _ int) bool {
		if lo.Contains(existing, d) {
			return false
		}
		st, err := os.Stat(d)
		return err == nil && st.IsDir()
	})
	if len(added) > 0 {
		path := lo.Compact(append(added, existing...))
		_ = os.Setenv("LD_LIBRARY_PATH", strings.Join(path, ":"))
	}

	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}
	for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
		if abs := filepath.Join(cwd, name); fileExists(abs) {
			ort.SetSharedLibraryPath(abs)
			return
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.loopDone
		err = c.session.Destroy()
	})
	return err
}

// Predict returns the network's value for one board.
func (c *OnnxClient) Predict(ctx context.Context, b game.Board) (float32, error) {
	respChan := make(chan inferenceResponse, 1)
	if err := c.send(ctx, b, respChan); err != nil {
		return 0, err
	}
	select {
	case resp := <-respChan:
		return resp.value, resp.err
	case <-c.quit:
		return 0, ErrClientClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *OnnxClient) send(ctx context.Context, b game.Board, respChan chan inferenceResponse) error {
	req := inferenceRequest{input: convert.BoardToFloat32(b), respChan: respChan}
	select {
	case c.requestsChan <- req:
		return nil
	case <-c.quit:
		convert.PutFloatBuffer(req.input)
		return ErrClientClosed
	case <-ctx.Done():
		convert.PutFloatBuffer(req.input)
		return ctx.Err()
	}
}

// Evaluate implements Batch. All boards are queued before any result is
// read so they can share session runs.
func (c *OnnxClient) Evaluate(ctx context.Context, boards []game.Board) ([]float64, error) {
	chans := make([]chan inferenceResponse, len(boards))
	for i, b := range boards {
		chans[i] = make(chan inferenceResponse, 1)
		if err := c.send(ctx, b, chans[i]); err != nil {
			return nil, err
		}
	}
	out := make([]float64, len(boards))
	for i, ch := range chans {
		select {
		case resp := <-ch:
			if resp.err != nil {
				return nil, resp.err
			}
			out[i] = float64(resp.value)
		case <-c.quit:
			return nil, ErrClientClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Move implements Batch on the CPU tables; slides are cheaper than a
// device round trip.
func (c *OnnxClient) Move(ctx context.Context, boards []game.Board, d game.Direction) ([]game.Board, []int, error) {
	return cpuMove(ctx, boards, d)
}

// Simulate is not offered by the network.
func (c *OnnxClient) Simulate(ctx context.Context, weights eval.Weights, count int) ([]GameOutcome, error) {
	return nil, ErrUnsupported
}

func (c *OnnxClient) Stats() RuntimeStats {
	return RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.lastBatch.Load(),
		QueueLen:      len(c.requestsChan),
	}.withAverages()
}

func (c *OnnxClient) batchLoop() {
	defer close(c.loopDone)
	batchInput := make([]float32, 0, c.cfg.BatchSize*InputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.runBatch(requests, batchInput)
		for _, req := range requests {
			convert.PutFloatBuffer(req.input)
		}
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-c.quit:
			c.failBatch(requests, ErrClientClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, (*req.input)...)

			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

// runBatch answers every queued request from one session run.
func (c *OnnxClient) runBatch(requests []inferenceRequest, input []float32) {
	n := int64(len(requests))
	start := time.Now()

	values, err := c.run(n, input)
	if err != nil {
		c.failBatch(requests, fmt.Errorf("run batch of %d: %w", n, err))
		return
	}
	for i, req := range requests {
		req.respChan <- inferenceResponse{value: values[i*ValueSize]}
	}

	c.batches.Add(1)
	c.items.Add(n)
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatch.Store(n)
}

func (c *OnnxClient) run(n int64, input []float32) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(n, convert.Channels, convert.Height, convert.Width), input)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(n, ValueSize))
	if err != nil {
		return nil, err
	}
	defer out.Destroy()

	if err := c.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, err
	}
	// The tensor owns its data; copy before Destroy.
	return append([]float32(nil), out.GetData()...), nil
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}

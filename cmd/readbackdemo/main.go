// Command readbackdemo drives a readback coordinator from several client
// goroutines and writes one of the transferred images to a BMP file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
	"github.com/gogpu/readback/backend"
	_ "github.com/gogpu/readback/backend/native"
	_ "github.com/gogpu/readback/backend/software"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		backendArg = flag.String("backend", "", "backend name (default: best available)")
		width      = flag.Int("width", 0, "image width")
		height     = flag.Int("height", 0, "image height")
		clients    = flag.Int("clients", 0, "client goroutines")
		requests   = flag.Int("requests", 0, "requests per client")
		frameRate  = flag.Float64("fps", 0, "drain rate")
		timeout    = flag.Duration("timeout", 0, "per-request Get timeout")
		output     = flag.String("output", "", "output BMP file")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendArg
		case "width":
			cfg.Width = *width
		case "height":
			cfg.Height = *height
		case "clients":
			cfg.Clients = *clients
		case "requests":
			cfg.Requests = *requests
		case "fps":
			cfg.FrameRate = *frameRate
		case "timeout":
			cfg.Timeout = *timeout
		case "output":
			cfg.Output = *output
		case "v":
			cfg.Verbose = *verbose
		}
	})
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}

	if cfg.Verbose {
		readback.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func openBackend(name string) (backend.ReadbackBackend, error) {
	if name == "" {
		return backend.InitDefault()
	}
	b := backend.Get(name)
	if b == nil {
		return nil, fmt.Errorf("backend %q: %w (available: %v)", name, backend.ErrBackendNotAvailable, backend.Available())
	}
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("init backend %q: %w", name, err)
	}
	return b, nil
}

// result tallies the outcome of every client request.
type result struct {
	mu        sync.Mutex
	completed int
	timeouts  int
	cancelled int
	failed    int
	last      []byte
	elapsed   time.Duration
}

func (r *result) record(data []byte, err error, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elapsed += elapsed
	switch {
	case err == nil:
		r.completed++
		r.last = data
	case errors.Is(err, readback.ErrTimeout):
		r.timeouts++
	case errors.Is(err, readback.ErrCancelled):
		r.cancelled++
	default:
		r.failed++
	}
}

func run(ctx context.Context, cfg config) error {
	b, err := openBackend(cfg.Backend)
	if err != nil {
		return err
	}
	defer b.Close()
	log.Printf("Using %s backend", b.Name())

	loop := readback.NewDriverLoop(cfg.FrameRate)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(loopCtx, b.Device()) }()
	<-loop.Ready()

	// Images are created on the driver thread with the rest of the GPU work.
	var src gpucontext.Texture
	err = loop.Do(ctx, func(*readback.Coordinator) error {
		var err error
		src, err = b.NewImage(cfg.Width, cfg.Height, gradient(cfg.Width, cfg.Height).Pix)
		return err
	})
	if err != nil {
		return fmt.Errorf("create source image: %w", err)
	}

	res := &result{}
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client(ctx, loop, src, cfg, res)
		}()
	}
	wg.Wait()
	total := time.Since(start)

	cancel()
	if err := <-loopErr; err != nil {
		return fmt.Errorf("driver loop: %w", err)
	}

	if res.last != nil && cfg.Output != "" {
		if err := writeBMP(cfg.Output, cfg.Width, cfg.Height, res.last); err != nil {
			return err
		}
		log.Printf("Image saved to %s (%dx%d)", cfg.Output, cfg.Width, cfg.Height)
	}

	printSummary(os.Stdout, cfg, res, total, loop.Stats())
	return nil
}

func client(ctx context.Context, loop *readback.DriverLoop, src gpucontext.Texture, cfg config, res *result) {
	for i := 0; i < cfg.Requests; i++ {
		dst := make([]byte, cfg.Width*cfg.Height*readback.BytesPerPixel)
		start := time.Now()
		req, err := loop.Submit(ctx, src, dst)
		if err != nil {
			res.record(nil, err, time.Since(start))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		data, err := req.Get(cfg.Timeout)
		if errors.Is(err, readback.ErrTimeout) {
			req.Cancel()
		}
		res.record(data, err, time.Since(start))
	}
}

// gradient returns a test pattern: red grows left to right, green top to
// bottom.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x * 255 / max(w-1, 1))
			img.Pix[i+1] = uint8(y * 255 / max(h-1, 1))
			img.Pix[i+2] = 128
			img.Pix[i+3] = 255
		}
	}
	return img
}

func writeBMP(path string, w, h int, pix []byte) error {
	img := &image.RGBA{Pix: pix, Stride: w * readback.BytesPerPixel, Rect: image.Rect(0, 0, w, h)}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := bmp.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode bmp: %w", err)
	}
	return f.Close()
}

func printSummary(w io.Writer, cfg config, res *result, total time.Duration, stats readback.Stats) {
	p := message.NewPrinter(language.English)
	n := cfg.Clients * cfg.Requests
	p.Fprintf(w, "%d requests of %dx%d from %d clients in %v\n", n, cfg.Width, cfg.Height, cfg.Clients, total.Round(time.Millisecond))
	p.Fprintf(w, "  completed: %d  timeouts: %d  cancelled: %d  failed: %d\n", res.completed, res.timeouts, res.cancelled, res.failed)
	if n > 0 {
		p.Fprintf(w, "  mean latency: %v\n", (res.elapsed / time.Duration(n)).Round(time.Microsecond))
	}
	p.Fprintf(w, "  bytes transferred: %d\n", res.completed*cfg.Width*cfg.Height*readback.BytesPerPixel)
	p.Fprintf(w, "  %s\n", stats)
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/spf13/cobra"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/internal/injector"
	"github.com/placenote/placenote/sdk/go/placenote"
)

var demoFlags struct {
	remote bool
	frames int
	step   float64
}

func init() {
	rootCmd.AddCommand(demoCmd)
	f := demoCmd.Flags()
	f.BoolVar(&demoFlags.remote, "remote", false, "store maps on the configured server instead of in memory")
	f.IntVar(&demoFlags.frames, "frames", 20, "frames to feed while mapping")
	f.Float64Var(&demoFlags.step, "step", 0.3, "meters walked between frames")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Map a simulated walk, save it, reload it and localize against it",
	Args:  cobra.NoArgs,
	RunE:  runDemo,
}

// demo drives the SDK from the command goroutine while the consumer loop runs
// in the background, the way a host with its own frame loop would.
type demo struct {
	c   *injector.Client
	out io.Writer

	frame   atomic.Pointer[[]byte]
	thumbs  *placenote.ThumbnailSelector
	started time.Time
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var (
		c       *injector.Client
		cleanup func()
	)
	if demoFlags.remote {
		c, cleanup, err = injector.InitializeRemoteClient(ctx, cfg)
	} else {
		if cfg.APIKey() == "" {
			cfg.SDK.APIKey = "demo"
		}
		c, cleanup, err = injector.InitializeLocalClient(cfg, storage.NewMemoryStore())
	}
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop := make(chan error, 1)
	go func() { loop <- c.Run(ctx) }()

	d := &demo{
		c:       c,
		out:     cmd.OutOrStdout(),
		started: time.Now(),
	}
	err = d.run(ctx, cfg.SDK)
	cancel()
	if loopErr := <-loop; err == nil {
		err = loopErr
	}
	return err
}

func (d *demo) logf(format string, args ...any) {
	fmt.Fprintf(d.out, "[%6.2fs] %s\n", time.Since(d.started).Seconds(), fmt.Sprintf(format, args...))
}

func (d *demo) run(ctx context.Context, sdk placenote.Config) error {
	m := d.c.Manager

	initDone := make(chan error, 1)
	m.OnInitialized(func(err error) { initDone <- err })
	m.OnStatusChange(func(c placenote.StatusChange) {
		d.logf("status %s -> %s", c.Prev, c.Curr)
	})
	d.thumbs = placenote.NewThumbnailSelector(m, func() ([]byte, error) {
		if img := d.frame.Load(); img != nil {
			return *img, nil
		}
		return nil, fmt.Errorf("no frame yet")
	})
	defer d.thumbs.Close()

	if err := m.Initialize(sdk.Params()); err != nil {
		return err
	}
	if err := wait(ctx, initDone); err != nil {
		return err
	}
	d.logf("initialized")

	if err := m.StartSession(false); err != nil {
		return err
	}
	for i := 0; i < demoFlags.frames; i++ {
		if err := d.send(ctx, float64(i)*demoFlags.step, float64(i)*0.05); err != nil {
			return err
		}
	}
	d.logf("mapped %d landmarks", len(m.GetMap()))

	mapID, err := d.save(ctx)
	if err != nil {
		return err
	}
	if err := d.syncThumbnail(ctx, mapID); err != nil {
		d.logf("thumbnail not synced: %v", err)
	}
	if err := m.StopSession(); err != nil {
		return err
	}

	if err := d.transfer(ctx, "load", func(p placenote.ProgressFunc) error { return m.LoadMap(mapID, p) }); err != nil {
		return err
	}
	if err := m.StartSession(false); err != nil {
		return err
	}
	d.logf("localizing in %s mode", m.Mode())

	// start far away, then walk back onto the mapped path
	if err := d.send(ctx, 100, 0); err != nil {
		return err
	}
	if err := d.send(ctx, demoFlags.step, 0.05); err != nil {
		return err
	}
	if err := d.until(ctx, engine.StatusRunning); err != nil {
		return err
	}
	d.logf("localized at %s", fmtVec(m.Pose().Position))
	return m.StopSession()
}

func (d *demo) send(ctx context.Context, x, yaw float64) error {
	frame := engine.Frame{
		Y: engine.ImagePlane{Buf: make([]byte, 64*48), Width: 64, Height: 48, Stride: 64},
		Pose: engine.Pose{
			Position: r3.Vector{X: x, Z: 0.1 * math.Sin(x)},
			Rotation: engine.AxisAngle(r3.Vector{Y: 1}, yaw),
		},
	}
	d.frame.Store(&frame.Y.Buf)
	if err := d.c.Manager.SendFrame(frame, engine.OrientationLandscapeLeft); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return nil
	}
}

func (d *demo) save(ctx context.Context) (string, error) {
	ids := make(chan string, 1)
	errs := make(chan error, 1)
	err := d.transfer(ctx, "save", func(p placenote.ProgressFunc) error {
		return d.c.Manager.SaveMap(func(id string, err error) {
			if err != nil {
				errs <- err
				return
			}
			d.logf("created map %s", id)
			ids <- id
		}, p)
	})
	if err != nil {
		return "", err
	}
	select {
	case id := <-ids:
		return id, nil
	case err := <-errs:
		return "", err
	}
}

func (d *demo) syncThumbnail(ctx context.Context, mapID string) error {
	return d.transfer(ctx, "thumbnail", func(p placenote.ProgressFunc) error {
		// the selector belongs to the consumer goroutine
		submitted := make(chan error, 1)
		if err := d.c.Queue.Enqueue(func() { submitted <- d.thumbs.Sync(mapID, p) }); err != nil {
			return err
		}
		return wait(ctx, submitted)
	})
}

// transfer submits an operation and blocks until its terminal progress.
func (d *demo) transfer(ctx context.Context, name string, submit func(placenote.ProgressFunc) error) error {
	done := make(chan error, 1)
	last := -1.0
	err := submit(func(completed, faulted bool, f float64) {
		switch {
		case completed:
			d.logf("%s complete", name)
			done <- nil
		case faulted:
			done <- fmt.Errorf("%s faulted", name)
		case f-last >= 0.25:
			last = f
			d.logf("%s %3.0f%%", name, f*100)
		}
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

func (d *demo) until(ctx context.Context, want engine.Status) error {
	timeout := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if d.c.Manager.Status() == want {
			return nil
		}
		select {
		case <-tick.C:
		case <-timeout:
			return fmt.Errorf("status %s not reached", want)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fmtVec(v r3.Vector) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	hostappconfig "github.com/0xa1bed0/appimg/internal/apps/appimg/config"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/state"
	"github.com/0xa1bed0/appimg/internal/utils"
)

type Runtime struct {
	runID string

	ctx        context.Context    // global context
	cancelFunc context.CancelFunc // cancelFunc of global context

	mu sync.Mutex

	project *Project

	wg              sync.WaitGroup
	shutdownTimeout time.Duration

	firstFailErr error

	logPath string
	exit    func(code int)
}

func (rt *Runtime) CancelCtx() {
	rt.cancelFunc()
}

func (rt *Runtime) Ctx() context.Context {
	return rt.ctx
}

func (rt *Runtime) Project() *Project {
	return rt.project
}

func (rt *Runtime) RunID() string {
	return rt.runID
}

// LogPath is the full log of this run, empty until a project is resolved.
func (rt *Runtime) LogPath() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.logPath
}

type runtimeKey struct{}

func NewRuntime() *Runtime {
	baseCtx, cancel := context.WithCancel(context.Background())
	runID := strconv.FormatInt(time.Now().Unix(), 10)
	if suffix, err := utils.RandomHex(2); err == nil {
		runID += "-" + suffix
	}
	rt := &Runtime{
		runID:           runID,
		cancelFunc:      cancel,
		shutdownTimeout: 5 * time.Second,
		exit:            os.Exit,
	}
	// The runtime travels in the root context so command handlers can pick
	// it up once with FromContext. Nothing below the cmd layer reads it.
	rt.ctx = context.WithValue(baseCtx, runtimeKey{}, rt)
	return rt
}

func FromContext(ctx context.Context) *Runtime {
	v := ctx.Value(runtimeKey{})
	if v == nil {
		return nil
	}
	rt, _ := v.(*Runtime)
	return rt
}

func FromContextOrPanic(ctx context.Context) *Runtime {
	rt := FromContext(ctx)
	if rt == nil {
		panic(errors.New("runtime not found in this context"))
	}
	return rt
}

// ResolveProject binds the runtime to the project at path and starts the
// per-run log file. Later calls return the first project.
func (rt *Runtime) ResolveProject(ctx context.Context, path string, kvStore *state.KVStore) (*Project, error) {
	if rt.project != nil {
		return rt.project, nil
	}

	project, err := resolveProject(ctx, path, newProjectStateDB(kvStore))
	if err != nil {
		return nil, err
	}
	rt.project = project

	logPath := hostappconfig.RunLogPath(project.Name(), rt.RunID())
	if err := logs.SetFullLogPath(logPath); err != nil {
		logs.Warnf("can't open log file: %v", err)
	} else {
		rt.mu.Lock()
		rt.logPath = logPath
		rt.mu.Unlock()
		logs.Debugf("full log: %s", logPath)
	}

	return rt.project, nil
}

// GoNamed runs fn in a new goroutine, with panic recovery.
//
// Contract:
//   - A panic in fn is recovered, recorded as the first failure and cancels
//     the runtime context.
//   - Runtime.Wait() waits for all such goroutines and returns the first failure.
func (rt *Runtime) GoNamed(name string, fn func()) {
	if name == "" {
		name = "anonymous"
	}
	rt.wg.Go(func() {
		logs.Debugf("%s goroutine start", name)
		defer func() {
			if r := recover(); r != nil {
				rt.fail(fmt.Errorf("panic in %s: %v\n%s", name, r, debug.Stack()))
			}
		}()

		fn()
		logs.Debugf("%s goroutine finish", name)
	})
}

func (rt *Runtime) fail(err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.firstFailErr == nil {
		rt.firstFailErr = err
		rt.cancelFunc()
	}
}

func (rt *Runtime) Wait() error {
	rt.wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.firstFailErr
}

// OnShutdown runs fn once the runtime context is cancelled, with a fresh
// context bounded by the shutdown timeout.
func (rt *Runtime) OnShutdown(fn func(ctx context.Context)) {
	rt.GoNamed("OnShutdown", func() {
		<-rt.ctx.Done()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), rt.shutdownTimeout)
		defer cancel()

		fn(cleanupCtx)
	})
}

// Finalize handles both panic and normal exit.
// Call it in a defer at the top of main. Any failure exits with status 1.
func (rt *Runtime) Finalize(appName, helpHint string, execErr *error) {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "%s panic: %v\n", appName, r)
		fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
		fmt.Fprintln(os.Stderr, "")
		if helpHint != "" {
			fmt.Fprintln(os.Stderr, helpHint)
		}

		// cancel & wait so OnShutdown hooks run
		rt.CancelCtx()
		_ = rt.Wait()

		_ = logs.Close()
		rt.exit(1)
		return
	}

	// trigger OnShutdown hooks
	rt.CancelCtx()
	waitErr := rt.Wait()

	failed := false
	if execErr != nil && *execErr != nil {
		failed = true
		logs.Errorf("%s: %v", appName, *execErr)
		if helpHint != "" {
			fmt.Fprintln(os.Stderr, helpHint)
		}
	} else if waitErr != nil {
		failed = true
		logs.Errorf("%s fail reason: %v", appName, waitErr)
	}
	if failed {
		if p := rt.LogPath(); p != "" {
			fmt.Fprintf(os.Stderr, "full log: %s\n", p)
		}
	}

	_ = logs.Close()
	if failed {
		rt.exit(1)
	}
}

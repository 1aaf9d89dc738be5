// Package cdp drives a Chrome browser over the DevTools protocol as the
// agent's controlled surface.
package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// Config selects how the browser is obtained.
type Config struct {
	RemoteURL   string // DevTools websocket of a running browser; launches Chrome when empty
	ExecPath    string
	UserDataDir string // Browser profile, keeps platform logins between runs
	Headless    bool
	Width       int
	Height      int
	UploadDir   string // Where media is written before upload; a temp dir when empty
}

// Surface implements core.Surface on one browser tab.
type Surface struct {
	ctx       context.Context
	cancel    []context.CancelFunc
	uploadDir string
	ownsDir   bool
	log       *logrus.Entry

	mu     sync.Mutex
	closed bool
}

var _ core.Surface = (*Surface)(nil)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cdp: surface closed")

// New starts or attaches to a browser and opens a tab.
func New(ctx context.Context, cfg Config) (*Surface, error) {
	s := &Surface{log: logger.WithComponent("cdp")}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.log.Debugf), chromedp.WithErrorf(s.log.Warnf))
	s.ctx = tabCtx
	s.cancel = []context.CancelFunc{tabCancel, allocCancel}

	if err := chromedp.Run(tabCtx); err != nil {
		s.release()
		return nil, core.ErrSurface.WithMessage("start browser").WithCause(err)
	}

	s.uploadDir = cfg.UploadDir
	if s.uploadDir == "" {
		dir, err := os.MkdirTemp("", "publish-agent-upload-")
		if err != nil {
			s.release()
			return nil, err
		}
		s.uploadDir, s.ownsDir = dir, true
	} else if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		s.release()
		return nil, err
	}

	s.log.WithField("remote", cfg.RemoteURL != "").Info("browser ready")
	return s, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
	)
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 1366, 900
	}
	opts = append(opts, chromedp.WindowSize(w, h))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// run executes actions on the tab, aborting when ctx ends.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func evalOpts(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
}

func (s *Surface) eval(ctx context.Context, script string, res interface{}) error {
	return s.run(ctx, chromedp.Evaluate(script, res, evalOpts))
}

// Probe implements core.Prober.
func (s *Surface) Probe(ctx context.Context, loc flow.Locator) (*core.ElementInfo, error) {
	if loc.IsEmpty() {
		return nil, nil
	}
	var res probeResult
	if err := s.eval(ctx, buildProbe(loc), &res); err != nil {
		return nil, fmt.Errorf("probe %s: %w", loc.DescribeQuoted(), err)
	}
	return res.element(), nil
}

// DispatchPointer implements core.Pointer. The browser synthesizes the
// click from press and release, so click events only log.
func (s *Surface) DispatchPointer(ctx context.Context, ev core.PointerEvent) error {
	typ, ok := mouseType(ev.Type)
	if !ok {
		return nil
	}
	p := input.DispatchMouseEvent(typ, ev.X, ev.Y)
	if typ != input.MouseMoved {
		p = p.WithButton(input.Left).WithClickCount(1)
	}
	return s.run(ctx, p)
}

func mouseType(t core.PointerEventType) (input.MouseType, bool) {
	switch t {
	case core.PointerMove:
		return input.MouseMoved, true
	case core.PointerPress:
		return input.MousePressed, true
	case core.PointerRelease:
		return input.MouseReleased, true
	default:
		return "", false
	}
}

// ClearText implements core.Keyboard.
func (s *Surface) ClearText(ctx context.Context, el *core.ElementInfo) error {
	var ok bool
	if err := s.eval(ctx, fmt.Sprintf(clearScript, jsString(refSelector(el.Ref))), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s cannot be cleared", el.Ref)
	}
	return nil
}

// InsertText implements core.Keyboard.
func (s *Surface) InsertText(ctx context.Context, el *core.ElementInfo, text string) error {
	var ok bool
	if err := s.eval(ctx, fmt.Sprintf(focusScript, jsString(refSelector(el.Ref))), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s is gone", el.Ref)
	}
	return s.run(ctx, input.InsertText(text))
}

// AttachFile implements core.FileInput. File inputs get the file through
// DOM.setFileInputFiles; other elements receive a synthetic drop.
func (s *Surface) AttachFile(ctx context.Context, el *core.ElementInfo, file *core.MediaFile) error {
	sel := refSelector(el.Ref)
	if el.Tag != "input" {
		var ok bool
		script := fmt.Sprintf(dropScript, jsString(sel), jsString(file.Name), jsString(file.MimeType),
			jsString(base64.StdEncoding.EncodeToString(file.Data)))
		if err := s.eval(ctx, script, &ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("drop target %s is gone", el.Ref)
		}
		return nil
	}

	path := filepath.Join(s.uploadDir, uploadName(file.Name))
	if err := os.WriteFile(path, file.Data, 0o600); err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	s.log.WithField("file", path).Debug("staged upload")
	return s.run(ctx, chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery))
}

// uploadName keeps the base name and replaces separators.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "media.bin"
	}
	return name
}

// Navigate implements core.Navigator.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Close closes the tab and, when launched here, the browser.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.release()
	if s.ownsDir {
		return os.RemoveAll(s.uploadDir)
	}
	return nil
}

func (s *Surface) release() {
	for _, c := range s.cancel {
		c()
	}
}

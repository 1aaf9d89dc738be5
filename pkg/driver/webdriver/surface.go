package webdriver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// maxCandidates bounds the per-probe element round trips.
const maxCandidates = 20

// Config selects the WebDriver server and browser.
type Config struct {
	ServerURL string // e.g. http://localhost:9515 for chromedriver
	Browser   string // chrome, firefox, MicrosoftEdge
	Headless  bool
	Args      []string
	UploadDir string // Must be readable by the browser; a temp dir when empty
	Timeout   time.Duration
}

// Surface implements core.Surface on a WebDriver session.
type Surface struct {
	client    *Client
	uploadDir string
	ownsDir   bool
	log       *logrus.Entry

	mu     sync.Mutex
	closed bool
}

var _ core.Surface = (*Surface)(nil)

// New opens a session on the server described by cfg.
func New(ctx context.Context, cfg Config) (*Surface, error) {
	if cfg.ServerURL == "" {
		return nil, core.ErrSurface.WithMessage("webdriver server url is required")
	}
	s := &Surface{
		client: NewClient(cfg.ServerURL, cfg.Timeout),
		log:    logger.WithComponent("webdriver"),
	}
	if err := s.client.Connect(ctx, capabilities(cfg)); err != nil {
		return nil, core.ErrSurface.WithMessage("start session").WithCause(err)
	}

	s.uploadDir = cfg.UploadDir
	if s.uploadDir == "" {
		dir, err := os.MkdirTemp("", "publish-agent-upload-")
		if err != nil {
			_ = s.client.Disconnect(context.Background())
			return nil, err
		}
		s.uploadDir, s.ownsDir = dir, true
	} else if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		_ = s.client.Disconnect(context.Background())
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"server": cfg.ServerURL, "session": s.client.SessionID()}).Info("webdriver session ready")
	return s, nil
}

func capabilities(cfg Config) map[string]interface{} {
	browser := cfg.Browser
	if browser == "" {
		browser = "chrome"
	}
	caps := map[string]interface{}{"browserName": browser}

	args := append([]string{}, cfg.Args...)
	if cfg.Headless {
		if browser == "firefox" {
			args = append(args, "-headless")
		} else {
			args = append(args, "--headless=new")
		}
	}
	if len(args) == 0 {
		return caps
	}
	switch browser {
	case "firefox":
		caps["moz:firefoxOptions"] = map[string]interface{}{"args": args}
	case "MicrosoftEdge":
		caps["ms:edgeOptions"] = map[string]interface{}{"args": args}
	default:
		caps["goog:chromeOptions"] = map[string]interface{}{"args": args}
	}
	return caps
}

func (s *Surface) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSurface.WithMessage("webdriver: surface closed")
	}
	return nil
}

// Probe implements core.Prober. Text matches are tried innermost first.
func (s *Surface) Probe(ctx context.Context, loc flow.Locator) (*core.ElementInfo, error) {
	if loc.IsEmpty() {
		return nil, nil
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	strategy, value := findQuery(loc)
	ids, err := s.client.FindElements(ctx, strategy, value)
	if err != nil {
		if IsNoSuchElement(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("probe %s: %w", loc.DescribeQuoted(), err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if loc.Kind() == flow.LocatorText {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	if len(ids) > maxCandidates {
		ids = ids[:maxCandidates]
	}

	scrollX, scrollY, err := s.scrollOffset(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", loc.DescribeQuoted(), err)
	}

	var first *core.ElementInfo
	for _, id := range ids {
		el, err := s.describe(ctx, id, scrollX, scrollY)
		if err != nil {
			if IsNoSuchElement(err) {
				continue
			}
			return nil, fmt.Errorf("probe %s: %w", loc.DescribeQuoted(), err)
		}
		if el.IsVisible() {
			return el, nil
		}
		if first == nil {
			first = el
		}
	}
	return first, nil
}

// describe reads the element state and converts its rect to viewport pixels.
func (s *Surface) describe(ctx context.Context, id string, scrollX, scrollY float64) (*core.ElementInfo, error) {
	tag, err := s.client.ElementTag(ctx, id)
	if err != nil {
		return nil, err
	}
	text, err := s.client.ElementText(ctx, id)
	if err != nil {
		return nil, err
	}
	x, y, w, h, err := s.client.ElementRect(ctx, id)
	if err != nil {
		return nil, err
	}
	displayed, err := s.client.IsElementDisplayed(ctx, id)
	if err != nil {
		return nil, err
	}
	enabled, err := s.client.IsElementEnabled(ctx, id)
	if err != nil {
		return nil, err
	}
	return &core.ElementInfo{
		Ref:     id,
		Tag:     tag,
		Text:    strings.TrimSpace(text),
		Bounds:  core.Bounds{X: x - scrollX, Y: y - scrollY, Width: w, Height: h},
		Hidden:  !displayed,
		Enabled: enabled,
	}, nil
}

func (s *Surface) scrollOffset(ctx context.Context) (float64, float64, error) {
	var off []float64
	if err := s.client.ExecuteScript(ctx, "return [window.scrollX, window.scrollY];", nil, &off); err != nil {
		return 0, 0, err
	}
	if len(off) != 2 {
		return 0, 0, nil
	}
	return off[0], off[1], nil
}

// findQuery maps a locator to a WebDriver location strategy.
func findQuery(loc flow.Locator) (string, string) {
	switch loc.Kind() {
	case flow.LocatorAttribute:
		return "css selector", loc.CSS
	case flow.LocatorPath:
		return "xpath", loc.Path
	default:
		return "xpath", textXPath(loc)
	}
}

func textXPath(loc flow.Locator) string {
	tag := loc.Tag
	if tag == "" {
		tag = "*"
	}
	lit := xpathLiteral(strings.TrimSpace(loc.Text))
	if loc.Exact {
		return fmt.Sprintf("//%s[normalize-space(.)=%s]", tag, lit)
	}
	return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// DispatchPointer implements core.Pointer. Press and release already make a
// click, so click events are ignored.
func (s *Surface) DispatchPointer(ctx context.Context, ev core.PointerEvent) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var action map[string]interface{}
	switch ev.Type {
	case core.PointerMove:
		action = map[string]interface{}{
			"type": "pointerMove", "duration": 0, "origin": "viewport",
			"x": int(ev.X), "y": int(ev.Y),
		}
	case core.PointerPress:
		action = map[string]interface{}{"type": "pointerDown", "button": 0}
	case core.PointerRelease:
		action = map[string]interface{}{"type": "pointerUp", "button": 0}
	default:
		return nil
	}
	return s.client.PerformPointer(ctx, []map[string]interface{}{action})
}

// ClearText implements core.Keyboard.
func (s *Surface) ClearText(ctx context.Context, el *core.ElementInfo) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.ClearElement(ctx, el.Ref)
}

// InsertText implements core.Keyboard.
func (s *Surface) InsertText(ctx context.Context, el *core.ElementInfo, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.SendKeys(ctx, el.Ref, text)
}

// dropScript delivers a file to a drop zone passed as arguments[0].
const dropScript = `const el = arguments[0];
if (!el) return false;
const bin = atob(arguments[3]);
const buf = new Uint8Array(bin.length);
for (let i = 0; i < bin.length; i++) buf[i] = bin.charCodeAt(i);
const dt = new DataTransfer();
dt.items.add(new File([buf], arguments[1], {type: arguments[2]}));
for (const type of ['dragenter', 'dragover', 'drop']) {
	el.dispatchEvent(new DragEvent(type, {bubbles: true, cancelable: true, dataTransfer: dt}));
}
return true;`

// AttachFile implements core.FileInput. File inputs receive the staged path
// through Element Send Keys; other elements receive a synthetic drop.
func (s *Surface) AttachFile(ctx context.Context, el *core.ElementInfo, file *core.MediaFile) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if el.Tag != "input" {
		var ok bool
		args := []interface{}{
			map[string]string{w3cElementKey: el.Ref},
			file.Name, file.MimeType,
			base64.StdEncoding.EncodeToString(file.Data),
		}
		if err := s.client.ExecuteScript(ctx, dropScript, args, &ok); err != nil {
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
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	s.log.WithField("file", abs).Debug("staged upload")
	return s.client.SendKeys(ctx, el.Ref, abs)
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
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.OpenURL(ctx, url)
}

// Close ends the session and removes the staging dir it created.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.client.Disconnect(ctx)
	if s.ownsDir {
		if rmErr := os.RemoveAll(s.uploadDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

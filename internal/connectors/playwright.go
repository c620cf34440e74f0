package connectors

/*
Файл playwright.go — коннектор к реальному браузеру через playwright-go.
Одна сессия агента = один Chromium-контекст со своей страницей.
Ответы сайта 429/503 превращаются в ThrottleError, чтобы шлюз взвел cooldown.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

type browserSession struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// PlaywrightConnector лениво поднимает браузер на сессию и исполняет в нем действия.
type PlaywrightConnector struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	sessions map[string]*browserSession
	headless bool
	timeout  float64 // мс, как принимает playwright
	logger   *zap.Logger

	// onClose вызывается после закрытия сессии (сюда подключается Pacer.ClearSession)
	onClose func(sessionID string)
}

func NewPlaywrightConnector(headless bool, timeout time.Duration, logger *zap.Logger, onClose func(string)) *PlaywrightConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightConnector{
		sessions: make(map[string]*browserSession),
		headless: headless,
		timeout:  float64(timeout.Milliseconds()),
		logger:   logger.Named("playwright"),
		onClose:  onClose,
	}
}

// Start устанавливает драйвер и запускает Playwright
func (c *PlaywrightConnector) Start() error {
	opts := &playwright.RunOptions{Verbose: false, Stdout: io.Discard, Stderr: io.Discard}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	c.mu.Lock()
	c.pw = pw
	c.mu.Unlock()
	return nil
}

func (c *PlaywrightConnector) Call(ctx context.Context, action Action) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := c.session(action.SessionID)
	if err != nil {
		return nil, err
	}

	switch action.Kind {
	case ActionNavigate:
		resp, err := sess.page.Goto(action.Target)
		if err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		code := 0
		if resp != nil {
			code = resp.Status()
			if tErr := classifyStatus(code, resp.Headers()); tErr != nil {
				return nil, tErr
			}
		}
		return json.Marshal(map[string]any{"status": "loaded", "status_code": code, "url": sess.page.URL()})

	case ActionClick:
		if err := sess.page.Click(action.Selector); err != nil {
			return nil, fmt.Errorf("click failed: %w", err)
		}
		return json.Marshal(map[string]any{"status": "clicked", "selector": action.Selector, "url": sess.page.URL()})

	case ActionFill:
		if err := sess.page.Fill(action.Selector, action.Value); err != nil {
			return nil, fmt.Errorf("fill failed: %w", err)
		}
		return json.Marshal(map[string]any{"status": "filled", "selector": action.Selector})

	default:
		return nil, fmt.Errorf("action %q not supported by connector", action.Kind)
	}
}

func (c *PlaywrightConnector) session(id string) (*browserSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[id]; ok {
		return s, nil
	}
	if c.pw == nil {
		return nil, fmt.Errorf("playwright connector not started")
	}

	browser, err := c.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(c.headless)})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	bctx, err := browser.NewContext()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if c.timeout > 0 {
		page.SetDefaultTimeout(c.timeout)
	}

	s := &browserSession{browser: browser, context: bctx, page: page}
	c.sessions[id] = s
	c.logger.Info("browser session started", zap.String("session_id", id))
	return s, nil
}

// CloseSession закрывает браузер сессии и сообщает об этом движку темпа
func (c *PlaywrightConnector) CloseSession(id string) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()

	if ok {
		_ = s.page.Close()
		_ = s.context.Close()
		_ = s.browser.Close()
	}
	if c.onClose != nil {
		c.onClose(id)
	}
}

// Stop закрывает все сессии и останавливает Playwright
func (c *PlaywrightConnector) Stop() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.CloseSession(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		c.pw = nil
	}
	return nil
}

// classifyStatus превращает ответ сайта об ограничении в ThrottleError
func classifyStatus(code int, headers map[string]string) *ThrottleError {
	if code != http.StatusTooManyRequests && code != http.StatusServiceUnavailable {
		return nil
	}
	return &ThrottleError{
		StatusCode: code,
		RetryAfter: parseRetryAfter(headers["retry-after"], time.Now()),
		Cause:      fmt.Errorf("site responded %d %s", code, http.StatusText(code)),
	}
}

// parseRetryAfter понимает обе формы заголовка: секунды и HTTP-дату
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

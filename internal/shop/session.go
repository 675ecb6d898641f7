package shop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/catalog"
	"github.com/VenkatGGG/shopping-agent/internal/cdp"
	"github.com/VenkatGGG/shopping-agent/internal/extract"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

const DefaultBaseURL = "https://joy-buy-test.lovable.app"

// Driver is the slice of the DevTools client a storefront session needs.
// *cdp.Client satisfies it.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	InnerText(ctx context.Context, selector string) (string, error)
	Count(ctx context.Context, selector, text string) (int, error)
	IsVisible(ctx context.Context, selector, text string) (bool, error)
	ClickSelector(ctx context.Context, selector, text string, timeout time.Duration) error
	ClickNth(ctx context.Context, selector, text string, n int) error
	FillSelector(ctx context.Context, selector, value string) error
	Elements(ctx context.Context, selector string) ([]cdp.Element, error)
	TextBox(ctx context.Context, text string) (cdp.Rect, bool, error)
	CaptureScreenshot(ctx context.Context) (string, error)
}

type ProductMatcher interface {
	Match(ctx context.Context, description string, products []catalog.Product) (catalog.Match, error)
}

type CartExtractor interface {
	Extract(ctx context.Context, pageText string, in extract.Input) (cart.Cart, error)
}

type ScreenshotSaver interface {
	SaveScreenshotBase64(ctx context.Context, name, payload string) (string, error)
}

type Config struct {
	BaseURL string
	RunID   string
	Profile *cart.BrowserProfile

	// Zero delays take the defaults; negative ones skip the wait.
	LoadTimeout   time.Duration
	HydrateDelay  time.Duration
	ClickDelay    time.Duration
	CartDelay     time.Duration
	CheckoutDelay time.Duration
	SubmitDelay   time.Duration

	// Screenshots receives a capture of failed purchases. Optional.
	Screenshots ScreenshotSaver
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.HydrateDelay == 0 {
		c.HydrateDelay = 2 * time.Second
	}
	if c.ClickDelay == 0 {
		c.ClickDelay = time.Second
	}
	if c.CartDelay == 0 {
		c.CartDelay = 2 * time.Second
	}
	if c.CheckoutDelay == 0 {
		c.CheckoutDelay = 2 * time.Second
	}
	if c.SubmitDelay == 0 {
		c.SubmitDelay = 5 * time.Second
	}
	return c
}

// ItemOutcome reports what Browse did for one plan item.
type ItemOutcome struct {
	PlanItemID  string `json:"plan_item_id"`
	Description string `json:"description"`
	Matched     bool   `json:"matched"`
	ProductName string `json:"product_name,omitempty"`
	Requested   int64  `json:"requested"`
	Added       int64  `json:"added"`
}

// Session drives one storefront through a page it does not share.
type Session struct {
	driver    Driver
	matcher   ProductMatcher
	extractor CartExtractor
	cfg       Config
	logger    *log.Logger

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewSession(driver Driver, matcher ProductMatcher, extractor CartExtractor, cfg Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		driver:    driver,
		matcher:   matcher,
		extractor: extractor,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Session) BaseURL() string {
	return s.cfg.BaseURL
}

// Browse opens the storefront, parses its catalog once, and adds each plan
// item in order. Items without a match are skipped; only transport and
// cancellation errors stop the walk.
func (s *Session) Browse(ctx context.Context, p plan.ShoppingPlan) ([]ItemOutcome, error) {
	if err := s.open(ctx, s.cfg.BaseURL); err != nil {
		return nil, err
	}
	text, err := s.driver.InnerText(ctx, "body")
	if err != nil {
		return nil, fmt.Errorf("read catalog page: %w", err)
	}
	products := catalog.Parse(text)
	s.logger.Printf("catalog parsed: url=%s products=%d", s.cfg.BaseURL, len(products))

	outcomes := make([]ItemOutcome, 0, len(p.Items))
	for _, item := range p.Items {
		outcome := ItemOutcome{PlanItemID: item.ID, Description: item.Description, Requested: item.Quantity}

		match, err := s.matcher.Match(ctx, item.Description, products)
		if err != nil {
			return outcomes, err
		}
		if !match.Found {
			s.logger.Printf("skipping item: id=%s description=%q reason=%q", item.ID, item.Description, match.Reasoning)
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Matched = true
		outcome.ProductName = match.Name
		s.warnAboveCap(item, match, products)

		added, err := s.AddQuantity(ctx, match.Name, match.Index, item.Quantity)
		outcome.Added = added
		outcomes = append(outcomes, outcome)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (s *Session) warnAboveCap(item plan.Item, match catalog.Match, products []catalog.Product) {
	if item.MaxPriceCents == nil || match.Index < 0 || match.Index >= len(products) {
		return
	}
	price, ok := catalog.PriceCents(products[match.Index].Price)
	if ok && price > *item.MaxPriceCents {
		s.logger.Printf("warning: price above item cap: id=%s price_cents=%d max_price_cents=%d", item.ID, price, *item.MaxPriceCents)
	}
}

// AddQuantity clicks the product's Add button qty times and returns how many
// clicks landed. It stops early when no button can be found.
func (s *Session) AddQuantity(ctx context.Context, name string, index int, qty int64) (int64, error) {
	var added int64
	for added < qty {
		ok, err := s.clickAdd(ctx, name, index)
		if err != nil {
			return added, err
		}
		if !ok {
			s.logger.Printf("warning: add button not found: product=%q added=%d requested=%d", name, added, qty)
			return added, nil
		}
		added++
		if err := s.sleep(ctx, s.cfg.ClickDelay); err != nil {
			return added, err
		}
	}
	s.logger.Printf("added to cart: product=%q quantity=%d", name, added)
	return added, nil
}

// clickAdd prefers the catalog index, which lines up with the n-th Add
// button, and falls back to the Add button nearest the product name.
func (s *Session) clickAdd(ctx context.Context, name string, index int) (bool, error) {
	if index >= 0 {
		count, err := s.driver.Count(ctx, "button", addButtonText)
		if err != nil {
			if err := s.soft(ctx, "count add buttons", err); err != nil {
				return false, err
			}
		} else if index < count {
			err := s.driver.ClickNth(ctx, "button", addButtonText, index)
			if err == nil {
				return true, nil
			}
			if err := s.soft(ctx, "click add button by index", err); err != nil {
				return false, err
			}
		}
	}
	return s.clickNearest(ctx, name)
}

func (s *Session) clickNearest(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	rect, found, err := s.driver.TextBox(ctx, name)
	if err == nil && !found {
		if prefix := []rune(name); len(prefix) > 30 {
			rect, found, err = s.driver.TextBox(ctx, string(prefix[:30]))
		}
	}
	if err != nil {
		return false, s.soft(ctx, "locate product text", err)
	}
	if !found {
		return false, nil
	}

	elements, err := s.driver.Elements(ctx, "button")
	if err != nil {
		return false, s.soft(ctx, "list buttons", err)
	}
	buttons := make([]catalog.Button, len(elements))
	for i, element := range elements {
		buttons[i] = catalog.Button{Text: element.Text, Visible: element.Visible, Box: box(element.Rect)}
	}
	nearest := catalog.PickAddButton(box(rect), buttons)
	if nearest < 0 {
		return false, nil
	}
	if err := s.driver.ClickNth(ctx, "button", "", nearest); err != nil {
		return false, s.soft(ctx, "click nearest add button", err)
	}
	return true, nil
}

// ExtractCart opens the cart page and reads it into a structured cart.
func (s *Session) ExtractCart(ctx context.Context, p plan.ShoppingPlan) (cart.Cart, error) {
	if err := s.openCart(ctx); err != nil {
		return cart.Cart{}, err
	}
	text, err := s.driver.InnerText(ctx, "body")
	if err != nil {
		return cart.Cart{}, fmt.Errorf("read cart page: %w", err)
	}
	currentURL, err := s.driver.CurrentURL(ctx)
	if err != nil {
		return cart.Cart{}, fmt.Errorf("read cart url: %w", err)
	}
	return s.extractor.Extract(ctx, text, extract.Input{
		Plan:           p,
		MerchantOrigin: s.cfg.BaseURL,
		CurrentURL:     currentURL,
		Profile:        s.cfg.Profile,
		Now:            s.now(),
	})
}

func (s *Session) openCart(ctx context.Context) error {
	if err := s.driver.ClickSelector(ctx, cartLink, "", 3*time.Second); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := s.cfg.BaseURL + "/cart"
		s.logger.Printf("cart link unavailable, navigating: url=%s", target)
		if err := s.driver.Navigate(ctx, target); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("warning: could not open cart page: %v", err)
		}
	}
	return s.sleep(ctx, s.cfg.CartDelay)
}

func (s *Session) open(ctx context.Context, url string) error {
	if err := s.driver.Navigate(ctx, url); err != nil {
		return fmt.Errorf("open storefront: %w", err)
	}
	if err := s.driver.WaitForLoad(ctx, s.cfg.LoadTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Printf("warning: page load wait failed: url=%s err=%v", url, err)
	}
	return s.sleep(ctx, s.cfg.HydrateDelay)
}

// soft logs a failed page interaction and swallows it unless ctx is done.
func (s *Session) soft(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, cdp.ErrNotFound) {
		s.logger.Printf("%s failed: %v", what, err)
	}
	return nil
}

func box(r cdp.Rect) catalog.Box {
	return catalog.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package pbp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

const (
	// BaseURL is the default possession provider endpoint.
	BaseURL = "http://localhost:8090/v1"

	// UserAgent is sent with every provider request.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// RawCache stores raw provider documents keyed by resource.
type RawCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Client talks to the possession provider over HTTP.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	cache     RawCache
	logger    *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets a per-request timeout. Zero leaves timeouts to the provider.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithCache makes game lookups read through cache before hitting the network.
func WithCache(cache RawCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the client logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger.WithField("component", "pbp-client") }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New creates a provider client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = BaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		userAgent: UserAgent,
		logger:    logrus.StandardLogger().WithField("component", "pbp-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CachedGame returns gameID from the raw cache without a network request.
// Unreadable entries are evicted and reported as a miss.
func (c *Client) CachedGame(ctx context.Context, gameID string) (*Game, bool) {
	if c.cache == nil {
		return nil, false
	}
	key := gameKey(gameID)
	log := c.logger.WithField("game_id", gameID)

	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	game, err := decodeGame(raw)
	if err != nil {
		log.WithError(err).Warn("discarding unreadable cache entry")
		if err := c.cache.Delete(ctx, key); err != nil {
			log.WithError(err).Warn("cache evict failed")
		}
		return nil, false
	}
	if game.GameID == "" {
		game.GameID = gameID
	}
	log.Debug("cache hit")
	return game, true
}

// Game fetches the possession document for gameID, reading through the cache.
func (c *Client) Game(ctx context.Context, gameID string) (*Game, error) {
	if game, ok := c.CachedGame(ctx, gameID); ok {
		return game, nil
	}

	endpoint := fmt.Sprintf("%s/games/%s/possessions", c.baseURL, url.PathEscape(gameID))
	raw, err := c.fetch(ctx, endpoint, gameID)
	if err != nil {
		return nil, err
	}

	game, err := decodeGame(raw)
	if err != nil {
		return nil, fmt.Errorf("decode game %s: %w", gameID, err)
	}
	if game.GameID == "" {
		game.GameID = gameID
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, gameKey(gameID), raw); err != nil {
			c.logger.WithError(err).WithField("game_id", gameID).Warn("cache write failed")
		}
	}

	return game, nil
}

// FinalGames lists the ids of all completed games for season, in schedule order.
func (c *Client) FinalGames(ctx context.Context, season string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/seasons/%s/games?status=%s", c.baseURL, url.PathEscape(season), StatusFinal)
	raw, err := c.fetch(ctx, endpoint, "")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Games []SeasonGame `json:"games"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode season %s: %w", season, err)
	}

	ids := make([]string, 0, len(payload.Games))
	for _, g := range payload.Games {
		if g.GameID == "" || !strings.EqualFold(g.Status, StatusFinal) {
			continue
		}
		ids = append(ids, g.GameID)
	}
	return ids, nil
}

func (c *Client) fetch(ctx context.Context, endpoint, gameID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.WithField("url", endpoint).Debug("requesting")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err, gameID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err, gameID)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if looksLikeHTML(body) {
			return nil, fmt.Errorf("provider returned HTML page: %s", htmlSummary(body))
		}
		return body, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &ProviderError{
			Kind:    ErrTimeout,
			Type:    TypeTimeout,
			GameID:  gameID,
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
		}
	default:
		return nil, decodeProviderError(resp.StatusCode, body, gameID)
	}
}

func (c *Client) transportError(ctx context.Context, err error, gameID string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrTimeout, Type: TypeTimeout, GameID: gameID, Message: err.Error()}
	}
	return fmt.Errorf("provider request failed: %w", err)
}

func gameKey(gameID string) string {
	return "game:" + gameID
}

func decodeGame(raw []byte) (*Game, error) {
	var game Game
	if err := json.Unmarshal(raw, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

func decodeProviderError(status int, body []byte, gameID string) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Type != "" {
		return &ProviderError{
			Kind:    kindsByType[envelope.Error.Type],
			Type:    envelope.Error.Type,
			GameID:  gameID,
			Status:  status,
			Message: envelope.Error.Message,
		}
	}

	msg := abbreviate(body)
	if looksLikeHTML(body) {
		msg = htmlSummary(body)
	}
	return &ProviderError{
		Type:    http.StatusText(status),
		GameID:  gameID,
		Status:  status,
		Message: msg,
	}
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// htmlSummary pulls a readable line out of an HTML error page.
func htmlSummary(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return abbreviate(body)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return abbreviate([]byte(strings.TrimSpace(doc.Text())))
}

const maxMessageLen = 200

// abbreviate trims body to maxMessageLen bytes on a rune boundary. Invalid
// UTF-8 is replaced so the text can be stored as-is.
func abbreviate(body []byte) string {
	text := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(text) <= maxMessageLen {
		return text
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

package services

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"stock-simulator/internal/models"
)

var (
	// ErrNoQuote means the provider has no usable price for one symbol.
	// Batch lookups treat it as "absent", not as a failure.
	ErrNoQuote     = errors.New("no quote available")
	ErrRateLimited = errors.New("market data rate limit exceeded")
)

// QuoteSource supplies last-trade prices. A symbol missing from the result
// has no usable price; an error means the whole batch failed.
type QuoteSource interface {
	LastPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// StockQuoter returns the full quote for one symbol.
type StockQuoter interface {
	Quote(ctx context.Context, symbol string) (*models.Stock, error)
}

type AlphaVantageClient struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	concurrency int
	log         logrus.FieldLogger
}

func NewAlphaVantageClient(apiKey, baseURL string, timeout time.Duration, concurrency int, log logrus.FieldLogger) *AlphaVantageClient {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AlphaVantageClient{
		apiKey:      apiKey,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
		log:         log,
	}
}

func (a *AlphaVantageClient) Quote(ctx context.Context, symbol string) (*models.Stock, error) {
	symbol = models.NormalizeTicker(symbol)
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build quote request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "quote request for %s", symbol)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read quote response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("quote request for %s: status %d", symbol, resp.StatusCode)
	}
	stock, err := parseGlobalQuote(body, symbol)
	if err != nil {
		return nil, err
	}
	a.log.WithField("symbol", stock.Symbol).Debugf("quote %s", stock.Price)
	return stock, nil
}

func parseGlobalQuote(body []byte, symbol string) (*models.Stock, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.Errorf("malformed quote response for %s", symbol)
	}
	doc := gjson.ParseBytes(body)
	for _, key := range []string{"Information", "Note"} {
		if msg := doc.Get(key).String(); msg != "" {
			return nil, errors.Wrap(ErrRateLimited, msg)
		}
	}
	if msg := doc.Get("Error Message").String(); msg != "" {
		return nil, errors.Wrapf(ErrNoQuote, "%s: %s", symbol, msg)
	}

	gq := doc.Get("Global Quote")
	price, err := parsePrice(gq.Get(`05\. price`).String())
	if err != nil || !price.IsPositive() {
		return nil, errors.Wrapf(ErrNoQuote, "%s: no usable price", symbol)
	}
	change, _ := parsePrice(gq.Get(`09\. change`).String())
	changePercent, _ := parseChangePercent(gq.Get(`10\. change percent`).String())

	sym := gq.Get(`01\. symbol`).String()
	if sym == "" {
		sym = symbol
	}
	return &models.Stock{
		Symbol:        strings.ToUpper(sym),
		Name:          getStockName(sym),
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        gq.Get(`06\. volume`).Int(),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// LastPrices fans the batch out over GLOBAL_QUOTE calls. Symbols without
// data, or refused by the rate limit, are left out; any transport failure
// fails the batch.
func (a *AlphaVantageClient) LastPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	var mu sync.Mutex
	out := make(map[string]decimal.Decimal, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, t := range tickers {
		ticker := t
		g.Go(func() error {
			stock, err := a.Quote(gctx, ticker)
			if errors.Is(err, ErrNoQuote) || errors.Is(err, ErrRateLimited) {
				a.log.WithError(err).WithField("symbol", ticker).Warn("no quote, leaving symbol out of batch")
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[ticker] = stock.Price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MockMarket produces random-walk prices without calling any provider.
type MockMarket struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	// step is the maximum move per quote, in percent.
	step float64
}

func NewMockMarket(seed int64) *MockMarket {
	return &MockMarket{
		rng: rand.New(rand.NewSource(seed)),
		prices: map[string]decimal.Decimal{
			"AAPL":  decimal.RequireFromString("269.00"),
			"GOOGL": decimal.RequireFromString("267.47"),
			"MSFT":  decimal.RequireFromString("542.07"),
			"TSLA":  decimal.RequireFromString("460.55"),
			"AMZN":  decimal.RequireFromString("229.25"),
		},
		step: 1.5,
	}
}

// SetPrice pins the next base price for symbol.
func (m *MockMarket) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	m.prices[models.NormalizeTicker(symbol)] = price
	m.mu.Unlock()
}

func (m *MockMarket) Quote(_ context.Context, symbol string) (*models.Stock, error) {
	symbol = models.NormalizeTicker(symbol)

	m.mu.Lock()
	basePrice, exists := m.prices[symbol]
	if !exists {
		basePrice = decimal.NewFromInt(100)
	}
	changePercent := decimal.NewFromFloat(m.rng.Float64()*2*m.step - m.step).Round(4)
	change := basePrice.Mul(changePercent).Div(decimal.NewFromInt(100)).Round(4)
	newPrice := basePrice.Add(change)
	if !newPrice.IsPositive() {
		newPrice = basePrice
	}
	m.prices[symbol] = newPrice
	volume := m.rng.Int63n(5000000) + 1000000
	m.mu.Unlock()

	return &models.Stock{
		Symbol:        symbol,
		Name:          getStockName(symbol),
		Price:         newPrice,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        volume,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (m *MockMarket) LastPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		stock, _ := m.Quote(ctx, t)
		out[t] = stock.Price
	}
	return out, nil
}

// MarketDataService serves quotes for display. It falls back to the mock
// market while the provider is failing and probes the provider again after
// a cool-down. Order execution never goes through this fallback.
type MarketDataService struct {
	primary  StockQuoter
	mock     *MockMarket
	cooldown time.Duration
	log      logrus.FieldLogger

	mu             sync.Mutex
	useMockData    bool
	lastAPIFailure time.Time
}

func NewMarketDataService(primary StockQuoter, mock *MockMarket, log logrus.FieldLogger) *MarketDataService {
	return &MarketDataService{
		primary:  primary,
		mock:     mock,
		cooldown: 30 * time.Minute,
		log:      log,
	}
}

func (m *MarketDataService) GetStockPrice(ctx context.Context, symbol string) (*models.Stock, error) {
	if m.primary != nil && m.shouldTryPrimary() {
		stock, err := m.primary.Quote(ctx, symbol)
		if err == nil {
			m.mu.Lock()
			m.useMockData = false
			m.mu.Unlock()
			return stock, nil
		}
		if errors.Is(err, ErrNoQuote) {
			return nil, err
		}
		m.log.WithError(err).WithField("symbol", symbol).Warn("market data provider failed, switching to mock data")
		m.mu.Lock()
		m.useMockData = true
		m.lastAPIFailure = time.Now()
		m.mu.Unlock()
	}
	return m.mock.Quote(ctx, symbol)
}

func (m *MarketDataService) shouldTryPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.useMockData || time.Since(m.lastAPIFailure) > m.cooldown
}

func parsePrice(priceStr string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(priceStr)
	if cleaned == "" {
		return decimal.Zero, errors.New("empty price string")
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "could not parse %q as decimal", cleaned)
	}
	return price, nil
}

func parseChangePercent(percentStr string) (decimal.Decimal, error) {
	return parsePrice(strings.TrimSuffix(strings.TrimSpace(percentStr), "%"))
}

func getStockName(symbol string) string {
	names := map[string]string{
		"AAPL":  "Apple Inc.",
		"GOOGL": "Alphabet Inc.",
		"MSFT":  "Microsoft Corporation",
		"TSLA":  "Tesla Inc.",
		"AMZN":  "Amazon.com Inc.",
		"NVDA":  "NVIDIA Corporation",
		"META":  "Meta Platforms Inc.",
		"JPM":   "JPMorgan Chase & Co.",
	}

	if name, exists := names[strings.ToUpper(symbol)]; exists {
		return name
	}

	return fmt.Sprintf("%s Corporation", symbol)
}

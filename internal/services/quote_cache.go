package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const quoteKeyPrefix = "quote:last:"

// CachedQuoteSource keeps last prices in Redis for ttl and asks the inner
// source only for symbols that are not cached. Redis failures fall through
// to the inner source.
type CachedQuoteSource struct {
	inner QuoteSource
	rdb   redis.UniversalClient
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewCachedQuoteSource(inner QuoteSource, rdb redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *CachedQuoteSource {
	return &CachedQuoteSource{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedQuoteSource) LastPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	if len(tickers) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	out := make(map[string]decimal.Decimal, len(tickers))
	missing := tickers

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = quoteKeyPrefix + t
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.WithError(err).Warn("quote cache read failed")
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, tickers[i])
				continue
			}
			price, err := decimal.NewFromString(s)
			if err != nil {
				missing = append(missing, tickers[i])
				continue
			}
			out[tickers[i]] = price
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.inner.LastPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.rdb.Pipeline()
	for t, p := range fresh {
		out[t] = p
		pipe.Set(ctx, quoteKeyPrefix+t, p.String(), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("quote cache write failed")
	}
	return out, nil
}

package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
)

const chartBody = `{"chart":{"result":[{"meta":{
	"symbol":"SPY",
	"regularMarketPrice":562.34,
	"regularMarketOpen":560.01,
	"chartPreviousClose":558.5,
	"regularMarketTime":1741982400,
	"marketState":"REGULAR"}}],"error":null}}`

func TestGetQuoteFallsBackToSecondHost(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()

	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/SPY", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("range"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chartBody))
	}))
	defer secondary.Close()

	c := NewClient([]string{primary.URL, secondary.URL}, time.Second)
	q, err := c.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)

	assert.EqualValues(t, 1, primaryHits.Load())
	assert.Equal(t, domain.Price(56234000000), q.Price)
	assert.Equal(t, domain.Price(56001000000), q.Open)
	assert.Equal(t, domain.Price(55850000000), q.PreviousClose)
	assert.Equal(t, "REGULAR", q.MarketState)
	assert.Equal(t, time.Unix(1741982400, 0).UTC(), q.Timestamp)
}

func TestGetQuoteOpenFallsBackToPreviousClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":100.5,"chartPreviousClose":99.25}}]}}`))
	}))
	defer srv.Close()

	q, err := NewClient([]string{srv.URL}, time.Second).GetQuote(context.Background(), "^GSPC")
	require.NoError(t, err)
	assert.Equal(t, domain.Price(9925000000), q.Open)
	assert.Equal(t, "CLOSED", q.MarketState)
}

func TestGetQuoteAllHostsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	_, err := NewClient([]string{srv.URL, srv.URL}, time.Second).GetQuote(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestGetQuoteZeroPriceIsNoPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":0}}]}}`))
	}))
	defer srv.Close()

	_, err := NewClient([]string{srv.URL}, time.Second).GetQuote(context.Background(), "SPY")
	assert.ErrorIs(t, err, domain.ErrNoPrice)
}

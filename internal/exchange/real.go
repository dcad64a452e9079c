package exchange

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/grid"
)

// RealAdapter talks to a live spot-market venue over REST (order
// placement, cancellation, history) and WebSocket (ticker and fill
// streaming), authenticating every REST call with a short-lived
// ES256 JWT, the way broker_coinbase.go mints its bearer token but
// with the algorithm and lifetime spec requires: ES256, 2 minutes.
type RealAdapter struct {
	http    *resty.Client
	wsURL   string
	keyName string
	signKey *ecdsa.PrivateKey

	maxRetries int
}

// RealAdapterConfig carries everything needed to reach the venue.
type RealAdapterConfig struct {
	BaseURL    string
	WSURL      string
	KeyName    string // "sub" claim / API key identifier
	ECPrivPEM  string // PKCS8 EC private key, PEM-encoded
	MaxRetries int    // default 3, per spec's retry cap
	Timeout    time.Duration
}

// NewRealAdapter parses the signing key and builds the REST client.
func NewRealAdapter(cfg RealAdapterConfig) (*RealAdapter, error) {
	block, _ := pem.Decode([]byte(cfg.ECPrivPEM))
	if block == nil {
		return nil, fmt.Errorf("invalid EC private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not an EC key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)

	return &RealAdapter{
		http:       client,
		wsURL:      cfg.WSURL,
		keyName:    cfg.KeyName,
		signKey:    ecKey,
		maxRetries: maxRetries,
	}, nil
}

func (r *RealAdapter) Name() string { return "real" }

// mintJWT builds a 2-minute ES256 JWT with a fresh nonce per request,
// adapted from broker_coinbase.go's mintCoinbaseJWT (which uses RS256
// and a 25-second TTL) to spec's required ES256/2-minute shape.
func (r *RealAdapter) mintJWT(method, path string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": r.keyName,
		"iss": "cdp",
		"nbf": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"uri": fmt.Sprintf("%s %s", method, path),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = r.keyName
	tok.Header["nonce"] = uuid.NewString()
	return tok.SignedString(r.signKey)
}

// doWithRetry issues req, retrying up to maxRetries times on 429 with
// exponential backoff, honoring Retry-After when the venue sends one.
func (r *RealAdapter) doWithRetry(ctx context.Context, method, path string, body any, out any) error {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		tok, err := r.mintJWT(method, path)
		if err != nil {
			return fmt.Errorf("mint jwt: %w", err)
		}
		req := r.http.R().SetContext(ctx).SetAuthToken(tok)
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}
		var resp *resty.Response
		switch method {
		case http.MethodGet:
			resp, err = req.Get(path)
		case http.MethodPost:
			resp, err = req.Post(path)
		case http.MethodDelete:
			resp, err = req.Delete(path)
		default:
			return fmt.Errorf("unsupported method %s", method)
		}
		if err != nil {
			lastErr = err
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			wait := backoff
			if ra := resp.Header().Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)
			time.Sleep(wait)
			backoff *= 2
			continue
		}
		if resp.IsError() {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", r.maxRetries, lastErr)
}

func (r *RealAdapter) GetProducts(ctx context.Context) ([]Product, error) {
	var out struct {
		Products []struct {
			ProductID     string `json:"product_id"`
			BaseCurrency  string `json:"base_currency_id"`
			QuoteCurrency string `json:"quote_currency_id"`
		} `json:"products"`
	}
	if err := r.doWithRetry(ctx, http.MethodGet, "/api/v3/brokerage/products", nil, &out); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(out.Products))
	for _, p := range out.Products {
		products = append(products, Product{ID: p.ProductID, BaseCurrency: p.BaseCurrency, QuoteCurrency: p.QuoteCurrency})
	}
	return products, nil
}

func (r *RealAdapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	var out struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := r.doWithRetry(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, &out); err != nil {
		return nil, err
	}
	balances := make(map[string]float64, len(out.Accounts))
	for _, a := range out.Accounts {
		f, _ := strconv.ParseFloat(a.AvailableBalance.Value, 64)
		balances[a.Currency] = f
	}
	return balances, nil
}

func (r *RealAdapter) GetTicker(ctx context.Context, product string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	if err := r.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/api/v3/brokerage/products/%s", product), nil, &out); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out.Price, 64)
}

func (r *RealAdapter) GetCandles(ctx context.Context, product, granularity string, limit int) ([]grid.Candle, error) {
	var out struct {
		Candles []struct {
			Start  string `json:"start"`
			Low    string `json:"low"`
			High   string `json:"high"`
			Open   string `json:"open"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	path := fmt.Sprintf("/api/v3/brokerage/products/%s/candles?granularity=%s&limit=%d", product, granularity, limit)
	if err := r.doWithRetry(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	candles := make([]grid.Candle, 0, len(out.Candles))
	for _, c := range out.Candles {
		sec, _ := strconv.ParseInt(c.Start, 10, 64)
		o, _ := strconv.ParseFloat(c.Open, 64)
		h, _ := strconv.ParseFloat(c.High, 64)
		l, _ := strconv.ParseFloat(c.Low, 64)
		cl, _ := strconv.ParseFloat(c.Close, 64)
		v, _ := strconv.ParseFloat(c.Volume, 64)
		candles = append(candles, grid.Candle{Time: time.Unix(sec, 0), Open: o, High: h, Low: l, Close: cl, Volume: v})
	}
	return candles, nil
}

// PlaceLimitOrder is the one place this module leaves float64 for
// shopspring/decimal: the wire body's base_size/limit_price strings
// must round the way the venue's lot-size rules expect, not however
// float64's %.8f happens to format. Everywhere else (paper matching,
// grid arithmetic) stays float64, matching the teacher's and the
// original engine's style.
func (r *RealAdapter) PlaceLimitOrder(ctx context.Context, product string, side OrderSide, price, size float64, postOnly bool) (string, error) {
	body := map[string]any{
		"client_order_id": uuid.NewString(),
		"product_id":      product,
		"side":            strings.ToUpper(string(side)),
		"order_configuration": map[string]any{
			"limit_limit_gtc": map[string]any{
				"base_size":   decimal.NewFromFloat(size).Round(8).String(),
				"limit_price": decimal.NewFromFloat(price).Round(8).String(),
				"post_only":   postOnly,
			},
		},
	}
	var out struct {
		OrderID string `json:"order_id"`
		Success bool   `json:"success"`
	}
	if err := r.doWithRetry(ctx, http.MethodPost, "/api/v3/brokerage/orders", body, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("order placement rejected for %s", product)
	}
	return out.OrderID, nil
}

func (r *RealAdapter) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"order_ids": []string{orderID}}
	return r.doWithRetry(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", body, nil)
}

func (r *RealAdapter) ListOpenOrders(ctx context.Context, product string) ([]OpenOrder, error) {
	var out struct {
		Orders []struct {
			OrderID   string `json:"order_id"`
			ProductID string `json:"product_id"`
			Side      string `json:"side"`
			Status    string `json:"status"`
			Config    struct {
				LimitGTC struct {
					BaseSize   string `json:"base_size"`
					LimitPrice string `json:"limit_price"`
				} `json:"limit_limit_gtc"`
			} `json:"order_configuration"`
			CreatedTime string `json:"created_time"`
		} `json:"orders"`
	}
	path := "/api/v3/brokerage/orders/historical/batch?order_status=OPEN"
	if product != "" {
		path += "&product_id=" + product
	}
	if err := r.doWithRetry(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	var open []OpenOrder
	for _, o := range out.Orders {
		if o.Status != "OPEN" {
			continue
		}
		price, _ := strconv.ParseFloat(o.Config.LimitGTC.LimitPrice, 64)
		size, _ := strconv.ParseFloat(o.Config.LimitGTC.BaseSize, 64)
		created, _ := time.Parse(time.RFC3339, o.CreatedTime)
		open = append(open, OpenOrder{
			ID:        o.OrderID,
			ProductID: o.ProductID,
			Side:      OrderSide(o.Side),
			Price:     price,
			Size:      size,
			CreatedAt: created,
		})
	}
	return open, nil
}

func (r *RealAdapter) GetFills(ctx context.Context, since *time.Time) ([]Fill, error) {
	var out struct {
		Fills []struct {
			OrderID   string `json:"order_id"`
			ProductID string `json:"product_id"`
			Side      string `json:"side"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			Commission string `json:"commission"`
			TradeTime string `json:"trade_time"`
		} `json:"fills"`
	}
	path := "/api/v3/brokerage/orders/historical/fills"
	if since != nil {
		path += "?start_sequence_timestamp=" + since.UTC().Format(time.RFC3339)
	}
	if err := r.doWithRetry(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	fills := make([]Fill, 0, len(out.Fills))
	for _, f := range out.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		size, _ := strconv.ParseFloat(f.Size, 64)
		fee, _ := strconv.ParseFloat(f.Commission, 64)
		tradeTime, _ := time.Parse(time.RFC3339, f.TradeTime)
		fills = append(fills, Fill{
			OrderID: f.OrderID, ProductID: f.ProductID, Side: OrderSide(f.Side),
			Price: price, Size: size, FeeUSD: fee, Time: tradeTime,
		})
	}
	return fills, nil
}

// wsDial connects with exponential backoff, reconnecting on read
// error until ctx is canceled — the reconnect discipline spec
// requires of the live ticker/fills channels.
func (r *RealAdapter) wsDial(ctx context.Context, channel string, products []string, handle func([]byte) error) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.wsURL, nil)
		if err != nil {
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		sub := map[string]any{"type": "subscribe", "channel": channel, "product_ids": products}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			continue
		}
		backoff = time.Second
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				break
			}
			if err := handle(msg); err != nil {
				conn.Close()
				return err
			}
			select {
			case <-ctx.Done():
				conn.Close()
				return ctx.Err()
			default:
			}
		}
	}
}

func (r *RealAdapter) StreamTicker(ctx context.Context, products []string, out chan<- TickerEvent) error {
	return r.wsDial(ctx, "ticker", products, func(msg []byte) error {
		var evt struct {
			Events []struct {
				Tickers []struct {
					ProductID string `json:"product_id"`
					Price     string `json:"price"`
				} `json:"tickers"`
			} `json:"events"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil {
			return nil // ignore malformed/heartbeat frames
		}
		for _, e := range evt.Events {
			for _, t := range e.Tickers {
				price, err := strconv.ParseFloat(t.Price, 64)
				if err != nil {
					continue
				}
				select {
				case out <- TickerEvent{ProductID: t.ProductID, Price: price, Time: time.Now()}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})
}

func (r *RealAdapter) StreamFills(ctx context.Context, out chan<- Fill) error {
	return r.wsDial(ctx, "user", nil, func(msg []byte) error {
		var evt struct {
			Events []struct {
				Orders []struct {
					OrderID           string `json:"order_id"`
					ProductID         string `json:"product_id"`
					Side              string `json:"order_side"`
					CumulativeQty     string `json:"cumulative_quantity"`
					AvgPrice          string `json:"avg_price"`
					Status            string `json:"status"`
				} `json:"orders"`
			} `json:"events"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil {
			return nil
		}
		for _, e := range evt.Events {
			for _, o := range e.Orders {
				if o.Status != "FILLED" {
					continue
				}
				price, _ := strconv.ParseFloat(o.AvgPrice, 64)
				size, _ := strconv.ParseFloat(o.CumulativeQty, 64)
				select {
				case out <- Fill{OrderID: o.OrderID, ProductID: o.ProductID, Side: OrderSide(o.Side), Price: price, Size: size, Time: time.Now()}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})
}

// 包 fetch 封装 HTTP 客户端（代理/超时/限速），用于抓取分页与下载资源。
// 页面请求不按状态码重试：状态码原样交给调用方（翻页状态机自行退避）；
// 资源下载保留简单线性回退重试。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Client 为共享限速器的 HTTP 客户端。
// 超时按请求设置：页面与资源各有上限，资源上限覆盖正文读取。
type Client struct {
	http         *resty.Client
	limiter      *rate.Limiter
	retry        int
	timeout      time.Duration
	assetTimeout time.Duration
}

// Options 为客户端构造参数。
type Options struct {
	Proxy        string
	Timeout      time.Duration // 页面请求
	AssetTimeout time.Duration // 单次资源下载，直到正文读完；0 取 10 分钟
	UserAgent    string
	RatePerSec   float64 // 0 表示不限速
	Retry        int     // 仅作用于 Open
}

// Response 为页面请求结果：状态码与（已转为 UTF-8 的）正文。
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// StatusError 表示非 2xx 响应。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("GET %s: http status %d", e.URL, e.Status) }

// New 创建客户端。
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.AssetTimeout <= 0 {
		opts.AssetTimeout = 10 * time.Minute
	}
	cl := resty.New().
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if opts.UserAgent != "" {
		cl.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Proxy != "" {
		cl.SetProxy(opts.Proxy)
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &Client{http: cl, limiter: lim, retry: opts.Retry, timeout: opts.Timeout, assetTimeout: opts.AssetTimeout}, nil
}

// Get 请求页面并返回状态码与正文；仅传输层失败返回 error。
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.http.R().SetContext(reqCtx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	ct := res.Header().Get("Content-Type")
	return &Response{URL: url, Status: res.StatusCode(), ContentType: ct, Body: toUTF8(res.Body(), ct)}, nil
}

// toUTF8 按 Content-Type 或 <meta charset> 将正文转为 UTF-8；
// 未声明编码且本身是合法 UTF-8 时原样返回。
func toUTF8(body []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(body)) {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

// Open 下载资源，返回正文流（调用方负责关闭）。
// 5xx 与传输错误按 Retry 次数线性回退重试，4xx 直接返回 *StatusError。
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error
	attempts := c.retry + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * 300 * time.Millisecond):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.assetTimeout)
		res, err := c.http.R().SetContext(reqCtx).SetDoNotParseResponse(true).Get(url)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("GET %s: %w", url, err)
			continue
		}
		body := res.RawBody()
		if st := res.StatusCode(); st >= 200 && st < 300 && body != nil {
			return &cancelOnClose{ReadCloser: body, cancel: cancel}, nil
		}
		if body != nil {
			_ = body.Close()
		}
		cancel()
		lastErr = &StatusError{URL: url, Status: res.StatusCode()}
		if res.StatusCode() < http.StatusInternalServerError {
			break
		}
	}
	return nil, lastErr
}

// cancelOnClose 在正文关闭时释放请求的超时上下文。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// IsStatus 判断 err 是否为指定状态码的 *StatusError。
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

package browser

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const cookieTimeout = 5 * time.Second

// liveJar is an http.CookieJar backed by the browser's cookie store. Every
// request reads the current cookies, so rotated session cookies are picked
// up, and cookies set by responses are written back to the browser.
type liveJar struct {
	ctx   context.Context
	read  func() ([]*proto.NetworkCookie, error)
	write func([]*proto.NetworkCookieParam) error
}

var _ http.CookieJar = (*liveJar)(nil)

func (j *liveJar) Cookies(u *url.URL) []*http.Cookie {
	logger := logctx.LoggerFromContext(j.ctx)

	cookies, err := j.read()
	if err != nil {
		logger.WarnContext(j.ctx, "failed to read browser cookies", "host", u.Host, "err", err)

		return nil
	}

	jar, err := newCookieJar(cookies)
	if err != nil {
		logger.WarnContext(j.ctx, "failed to build cookie jar", "err", err)

		return nil
	}

	return jar.Cookies(u)
}

func (j *liveJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      u.String(),
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}

	if err := j.write(params); err != nil {
		logctx.LoggerFromContext(j.ctx).WarnContext(j.ctx, "failed to store response cookies in browser", "host", u.Host, "err", err)
	}
}

func newCookieJar(cookies []*proto.NetworkCookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}

		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			cookie.Domain = host
		}

		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, []*http.Cookie{cookie})
	}

	return jar, nil
}

package guestcart

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// maxCookieValue keeps the whole Set-Cookie header under the 4096 byte limit
// browsers guarantee.
const maxCookieValue = 3800

type CookieOptions struct {
	Path   string
	MaxAge time.Duration
	Secure bool
}

// CookieStorage stores values as base64url cookies on one request/response
// pair. Values written during the request are visible to later reads on the
// same CookieStorage.
type CookieStorage struct {
	r       *http.Request
	w       http.ResponseWriter
	opts    CookieOptions
	written map[string]*string
}

func NewCookieStorage(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieStorage {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &CookieStorage{r: r, w: w, opts: opts, written: make(map[string]*string)}
}

func (c *CookieStorage) GetItem(key string) (string, bool, error) {
	if v, ok := c.written[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}

	cookie, err := c.r.Cookie(key)
	if errors.Is(err, http.ErrNoCookie) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read cookie")
	}

	value, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return "", false, errors.Wrapf(err, "decode cookie %q", key)
	}
	return string(value), true, nil
}

func (c *CookieStorage) SetItem(key, value string) error {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(value))
	if len(encoded) > maxCookieValue {
		return errors.Wrapf(ErrQuotaExceeded, "cookie %q is %d bytes", key, len(encoded))
	}

	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    encoded,
		Path:     c.opts.Path,
		MaxAge:   int(c.opts.MaxAge.Seconds()),
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.written[key] = &value
	return nil
}

func (c *CookieStorage) RemoveItem(key string) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     c.opts.Path,
		MaxAge:   -1,
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.written[key] = nil
	return nil
}

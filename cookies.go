package sdk

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// resettableJar is the cookie jar shared by the gateway and the auth client. Reset drops every
// cookie the API has set, which is part of purging a session.
type resettableJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newResettableJar() *resettableJar {
	return &resettableJar{jar: newCookieJar()}
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New never returns a non-nil error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	jar := j.jar
	j.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	jar := j.jar
	j.mu.RUnlock()
	return jar.Cookies(u)
}

// Reset discards all cookies.
func (j *resettableJar) Reset() {
	j.mu.Lock()
	j.jar = newCookieJar()
	j.mu.Unlock()
}

package session

import (
	"net/http"
	"net/url"
	"sync"
)

// Location is the visible URL of the browser context. ReplaceState rewrites
// it without leaving the page; Assign navigates away.
type Location interface {
	URL() *url.URL
	ReplaceState(u *url.URL)
	Assign(target string)
}

// callbackKeys are the parameters a provider appends to the redirect URI.
var callbackKeys = []string{"code", "state", "error", "error_description", "error_uri", "session_state", "iss"}

// Callback holds provider callback parameters found on a URL.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackParams reports the provider callback parameters carried by u. The
// query string is checked first, then the fragment. A URL is a callback when
// it has a state together with a code or an error.
func CallbackParams(u *url.URL) (Callback, bool) {
	if u == nil {
		return Callback{}, false
	}

	read := func(values url.Values) (Callback, bool) {
		cb := Callback{
			Code:             values.Get("code"),
			State:            values.Get("state"),
			Error:            values.Get("error"),
			ErrorDescription: values.Get("error_description"),
		}
		return cb, cb.State != "" && (cb.Code != "" || cb.Error != "")
	}

	if cb, ok := read(u.Query()); ok {
		return cb, true
	}
	if u.Fragment == "" {
		return Callback{}, false
	}
	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return Callback{}, false
	}
	return read(fragment)
}

// StripCallbackParams returns a copy of u without callback parameters in the
// query or fragment. Running it on a clean URL returns an equal URL.
func StripCallbackParams(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	clean := *u

	query := clean.Query()
	for _, key := range callbackKeys {
		query.Del(key)
	}
	clean.RawQuery = query.Encode()

	if clean.Fragment != "" {
		if fragment, err := url.ParseQuery(clean.Fragment); err == nil {
			stripped := false
			for _, key := range callbackKeys {
				if fragment.Has(key) {
					fragment.Del(key)
					stripped = true
				}
			}
			if stripped {
				clean.Fragment = fragment.Encode()
				clean.RawFragment = ""
			}
		}
	}
	return &clean
}

// RequestLocation adapts an HTTP request to Location. Rewrites and
// navigations become the redirect the handler should send.
type RequestLocation struct {
	mu       sync.Mutex
	current  *url.URL
	redirect string
}

func NewRequestLocation(r *http.Request) *RequestLocation {
	u := *r.URL
	return &RequestLocation{current: &u}
}

func (l *RequestLocation) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	u := *l.current
	return &u
}

func (l *RequestLocation) ReplaceState(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := *u
	l.current = &next
	l.redirect = next.RequestURI()
}

func (l *RequestLocation) Assign(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redirect = target
}

// Redirect returns where the browser should be sent, if anywhere.
func (l *RequestLocation) Redirect() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redirect, l.redirect != ""
}

// Apply sends the pending redirect. It reports whether one was sent.
func (l *RequestLocation) Apply(w http.ResponseWriter, r *http.Request) bool {
	target, ok := l.Redirect()
	if !ok {
		return false
	}
	http.Redirect(w, r, target, http.StatusFound)
	return true
}

package offlinecache

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ClientIDName is the header and cookie carrying a foreground client's id.
const ClientIDName = "Offline-Cache-Client"

const maxUncontrolledClients = 4096

// clients remembers the clients that were loaded before any generation was active.
// Those keep going to the network until they navigate again or are claimed.
type clients struct {
	mutex        sync.Mutex
	uncontrolled map[string]struct{}
}

func newClients() *clients {
	return &clients{uncontrolled: make(map[string]struct{})}
}

// controlled reports whether requests of the client are routed through the active generation.
// Requests without a client id are always controlled.
func (c *clients) controlled(id string, activeExists, navigation bool) bool {
	if id == "" {
		return true
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !activeExists {
		if len(c.uncontrolled) < maxUncontrolledClients {
			c.uncontrolled[id] = struct{}{}
		}
		return false
	}
	if navigation {
		// a new document load is controlled by the active generation from now on
		delete(c.uncontrolled, id)
		return true
	}
	_, ok := c.uncontrolled[id]
	return !ok
}

// claimAll puts every known client under control of the active generation.
func (c *clients) claimAll() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := len(c.uncontrolled)
	c.uncontrolled = make(map[string]struct{})
	return n
}

func (c *clients) uncontrolledCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.uncontrolled)
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(ClientIDName); id != "" {
		return id
	}
	if cookie, err := r.Cookie(ClientIDName); err == nil {
		return cookie.Value
	}
	return ""
}

// newClientID assigns a fresh id to the client through a cookie.
func newClientID(w http.ResponseWriter) string {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientIDName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

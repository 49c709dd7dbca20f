// Package mockdesk is an in-process fake of the desk web API used by tests.
// It serves the login, control-token, brake, mode and FCI endpoints over
// httptest and pushes scripted status frames over websockets.
//
// A forced control-token request against a held token answers with the new
// token at once, but control only moves once Press reports circle pressed
// within the force timeout, as on a real desk.
package mockdesk

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TopicNavigation   = "/desk/api/navigation/events"
	TopicSafety       = "/admin/api/safety/status"
	TopicSystemStatus = "/admin/api/system-status"
	TopicRobot        = "/desk/api/robot/configuration"
)

// Options configures a fake desk.
type Options struct {
	// Platform is "panda" or "fr3" and selects the brake endpoints and
	// whether operating-mode switching exists.
	Platform string
	// Users maps usernames to the encoded password the client must send.
	Users map[string]string
	// ForceTimeout is reported as tokenForceTimeout, in seconds.
	ForceTimeout int
	// TLS serves https/wss instead of http/ws.
	TLS bool
	// OmitForceTimeout leaves tokenForceTimeout out of the safety settings.
	OmitForceTimeout bool
}

// ActiveToken is the control token currently held on the fake desk.
type ActiveToken struct {
	ID      int64
	OwnedBy string
	Token   string
}

// Server is a running fake desk.
type Server struct {
	*httptest.Server

	opts        Options
	broadcaster *broadcaster

	mu        sync.Mutex
	sessions  map[string]string // session token -> username
	active    *ActiveToken
	pending   *ActiveToken // forced takeover awaiting circle
	pendingBy time.Time
	nextID    int64
	brakes    []string
	mode      string
	fci       bool
	requests  map[string]int
	lastForce map[string]string // brake path -> force field
}

// New starts a fake desk. Close it with Server.Close.
func New(opts Options) *Server {
	if opts.Platform == "" {
		opts.Platform = "fr3"
	}
	if opts.ForceTimeout == 0 {
		opts.ForceTimeout = 10
	}
	s := &Server{
		opts:        opts,
		broadcaster: newBroadcaster(),
		sessions:    make(map[string]string),
		nextID:      645396955,
		brakes:      []string{"Locked", "Locked", "Locked", "Locked", "Locked", "Locked", "Locked"},
		mode:        "Programming",
		requests:    make(map[string]int),
		lastForce:   make(map[string]string),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	handler := s.count(mux)
	if opts.TLS {
		s.Server = httptest.NewTLSServer(handler)
	} else {
		s.Server = httptest.NewServer(handler)
	}
	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/api/login", s.handleLogin)
	mux.HandleFunc("POST /admin/api/logout", s.authorized(s.handleLogout))
	mux.HandleFunc("GET /admin/api/control-token", s.authorized(s.handleActiveToken))
	mux.HandleFunc("POST /admin/api/control-token/request", s.authorized(s.handleTokenRequest))
	mux.HandleFunc("DELETE /admin/api/control-token", s.authorized(s.handleTokenRelease))
	mux.HandleFunc("POST /admin/api/control-token/fci", s.authorized(s.handleFCI(true)))
	mux.HandleFunc("DELETE /admin/api/control-token/fci", s.authorized(s.handleFCI(false)))
	mux.HandleFunc("GET /admin/api/safety", s.authorized(s.handleSafety))
	mux.HandleFunc("POST /admin/api/reboot", s.authorized(s.controlled(s.handleReboot)))
	mux.HandleFunc("POST /desk/api/operating-mode/{mode}", s.authorized(s.controlled(s.handleMode)))

	if s.opts.Platform == "panda" {
		mux.HandleFunc("POST /desk/api/robot/close-brakes", s.authorized(s.controlled(s.handleBrakes("Locked"))))
		mux.HandleFunc("POST /desk/api/robot/open-brakes", s.authorized(s.controlled(s.handleBrakes("Unlocked"))))
	} else {
		mux.HandleFunc("POST /desk/api/joints/lock", s.authorized(s.controlled(s.handleBrakes("Locked"))))
		mux.HandleFunc("POST /desk/api/joints/unlock", s.authorized(s.controlled(s.handleBrakes("Unlocked"))))
	}

	for _, topic := range []string{TopicNavigation, TopicSafety, TopicSystemStatus, TopicRobot} {
		mux.HandleFunc("GET "+topic, s.handleWS(topic))
	}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// sessionFromRequest returns the session token carried by the cookie or,
// on websocket upgrades, the authorization header.
func sessionFromRequest(r *http.Request) string {
	if c, err := r.Cookie("authorization"); err == nil {
		return c.Value
	}
	return r.Header.Get("Authorization")
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		_, ok := s.sessions[sessionFromRequest(r)]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// controlled rejects requests whose X-Control-Token is not the active one.
func (s *Server) controlled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.holdsControl(r.Header.Get("X-Control-Token")) {
			http.Error(w, "control token required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) holdsControl(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != "" && s.active != nil && s.active.Token == token
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	want, ok := s.opts.Users[body.Login]
	if !ok || want != body.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := randomToken()
	s.mu.Lock()
	s.sessions[token] = body.Login
	s.mu.Unlock()

	io.WriteString(w, token)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.sessions, sessionFromRequest(r))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleActiveToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]any{"activeToken": nil}
	if s.active != nil {
		resp["activeToken"] = map[string]any{"id": s.active.ID, "ownedBy": s.active.OwnedBy}
	}
	s.mu.Unlock()
	writeJSON(w, resp)
}

func (s *Server) handleTokenRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestedBy string `json:"requestedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	force := r.URL.Query().Has("force")

	s.mu.Lock()
	if s.active != nil && !force {
		owner := s.active.OwnedBy
		s.mu.Unlock()
		http.Error(w, "control held by "+owner, http.StatusConflict)
		return
	}
	s.nextID++
	tok := &ActiveToken{ID: s.nextID, OwnedBy: body.RequestedBy, Token: randomToken()}
	if s.active != nil {
		s.pending = tok
		s.pendingBy = time.Now().Add(time.Duration(s.opts.ForceTimeout) * time.Second)
	} else {
		s.active = tok
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"id": tok.ID, "token": tok.Token})
}

func (s *Server) handleTokenRelease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.Token != body.Token {
		http.Error(w, "not the active token", http.StatusForbidden)
		return
	}
	s.active = nil
	s.fci = false
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFCI(activate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !s.holdsControl(body.Token) {
			http.Error(w, "control token required", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		if activate {
			for _, b := range s.brakes {
				if b != "Unlocked" {
					s.mu.Unlock()
					http.Error(w, "brakes must be open", http.StatusConflict)
					return
				}
			}
		}
		s.fci = activate
		s.mu.Unlock()

		s.PushSystemStatus()
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	if s.opts.OmitForceTimeout {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, map[string]any{"tokenForceTimeout": s.opts.ForceTimeout})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var mode string
	switch r.PathValue("mode") {
	case "programming":
		mode = "Programming"
	case "execution":
		mode = "Execution"
	default:
		http.Error(w, "unknown mode", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	s.PushSystemStatus()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBrakes(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 16); err != nil {
			http.Error(w, "expected multipart form", http.StatusBadRequest)
			return
		}
		force := r.FormValue("force")
		if force == "" {
			if fh := r.MultipartForm.File["force"]; len(fh) > 0 {
				if f, err := fh[0].Open(); err == nil {
					data, _ := io.ReadAll(f)
					f.Close()
					force = string(data)
				}
			}
		}

		s.mu.Lock()
		s.lastForce[r.URL.Path] = force
		for i := range s.brakes {
			s.brakes[i] = target
		}
		s.mu.Unlock()

		s.PushSafety()
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleWS(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		_, ok := s.sessions[r.Header.Get("Authorization")]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("mockdesk: ws upgrade error: %v", err)
			return
		}

		c := s.broadcaster.add(conn, topic, func() []frame {
			switch topic {
			case TopicSafety:
				return []frame{{websocket.TextMessage, s.safetyJSON()}}
			case TopicSystemStatus:
				return []frame{{websocket.TextMessage, s.systemStatusJSON()}}
			}
			return nil
		})

		go func() {
			defer s.broadcaster.remove(c)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// Send pushes a raw text frame to every subscriber of topic.
func (s *Server) Send(topic string, data string) {
	s.broadcaster.broadcast(topic, frame{websocket.TextMessage, []byte(data)})
}

// SendBinary pushes a raw binary frame to every subscriber of topic.
func (s *Server) SendBinary(topic string, data []byte) {
	s.broadcaster.broadcast(topic, frame{websocket.BinaryMessage, data})
}

// Press sends a navigation event for one button. Pressing circle confirms
// a pending forced takeover.
func (s *Server) Press(button string, pressed bool) {
	if button == "circle" && pressed {
		s.mu.Lock()
		if s.pending != nil && time.Now().Before(s.pendingBy) {
			s.active = s.pending
		}
		s.pending = nil
		s.mu.Unlock()
	}
	s.Send(TopicNavigation, fmt.Sprintf("{%q: %t}", button, pressed))
}

// PushSafety sends the current brake state to safety subscribers.
func (s *Server) PushSafety() {
	s.broadcaster.broadcast(TopicSafety, frame{websocket.TextMessage, s.safetyJSON()})
}

// PushSystemStatus sends the combined status to system-status subscribers.
func (s *Server) PushSystemStatus() {
	s.broadcaster.broadcast(TopicSystemStatus, frame{websocket.TextMessage, s.systemStatusJSON()})
}

// Drop severs every connection on topic, simulating a network failure.
func (s *Server) Drop(topic string) {
	s.broadcaster.drop(topic)
}

// Subscribers returns the number of websocket clients on topic.
func (s *Server) Subscribers(topic string) int {
	return s.broadcaster.count(topic)
}

// WaitSubscribers blocks until n clients are subscribed to topic.
func (s *Server) WaitSubscribers(topic string, n int, timeout time.Duration) bool {
	return s.broadcaster.waitFor(topic, n, timeout)
}

// Requests returns how many requests hit path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// TotalRequests returns the number of requests served on any path.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// LastForce returns the force form field of the last brake request on path.
func (s *Server) LastForce(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForce[path]
}

// Active returns the active control token, if any.
func (s *Server) Active() (ActiveToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ActiveToken{}, false
	}
	return *s.active, true
}

// SetActive installs a control token as if another operator held control.
func (s *Server) SetActive(tok ActiveToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &tok
}

// SetBrakes overrides the brake state without notifying subscribers.
func (s *Server) SetBrakes(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.brakes {
		s.brakes[i] = state
	}
}

// Mode returns the operating mode as the desk reports it.
func (s *Server) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// FCIActive reports whether FCI is active.
func (s *Server) FCIActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fci
}

// Sessions returns the number of live login sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) safetyJSON() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(s.safetyLocked())
	return data
}

func (s *Server) safetyLocked() map[string]any {
	return map[string]any{
		"sequenceNumber":         18487175,
		"safetyControllerStatus": "Idle",
		"brakeState":             append([]string(nil), s.brakes...),
	}
}

func (s *Server) systemStatusJSON() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active any
	if s.active != nil {
		active = map[string]any{"id": s.active.ID, "ownedBy": s.active.OwnedBy}
	}
	data, _ := json.Marshal(map[string]any{
		"safety": s.safetyLocked(),
		"controlToken": map[string]any{
			"activeToken":  active,
			"fciActive":    s.fci,
			"tokenRequest": nil,
		},
		"derived": map[string]any{
			"operatingMode": s.mode,
		},
	})
	return data
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// Host returns the server address without scheme, as a desk host name.
func (s *Server) Host() string {
	return strings.TrimPrefix(strings.TrimPrefix(s.URL, "https://"), "http://")
}

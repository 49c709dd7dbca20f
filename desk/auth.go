package desk

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// EncodePassword returns the password as the desk's login form submits it:
// the decimal bytes of sha256(password#username@franka) joined by commas,
// base64 encoded in lines of 76 characters, each ending with a newline.
func EncodePassword(username, password string) string {
	sum := sha256.Sum256([]byte(password + "#" + username + "@franka"))
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strconv.Itoa(int(b))
	}
	enc := base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, ",")))

	var sb strings.Builder
	for len(enc) > 76 {
		sb.WriteString(enc[:76])
		sb.WriteByte('\n')
		enc = enc[76:]
	}
	if enc != "" {
		sb.WriteString(enc)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Login authenticates and keeps the session for later calls. On failure the
// previous session, if any, is left untouched.
func (d *Desk) Login(ctx context.Context, username, password string) error {
	body := jsonBody{map[string]string{
		"login":    username,
		"password": EncodePassword(username, password),
	}}
	data, err := d.request(ctx, http.MethodPost, "/admin/api/login", body, nil, d.requestTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("%w: empty session token", ErrAuth)
	}

	d.mu.Lock()
	d.session = token
	d.username = username
	d.mu.Unlock()
	d.setSessionCookie(token, 0)

	d.log.Infof("Logged in as %s at %s", username, d.host)
	return nil
}

// Logout ends the session. Session state is cleared even if the desk
// rejects the request.
func (d *Desk) Logout(ctx context.Context) error {
	if !d.LoggedIn() {
		return nil
	}
	_, err := d.request(ctx, http.MethodPost, "/admin/api/logout", nil, nil, d.requestTimeout)

	d.mu.Lock()
	d.session = ""
	d.username = ""
	d.mu.Unlock()
	d.setSessionCookie("", -1)

	if err != nil {
		return classify(err, false)
	}
	d.log.Infof("Logged out of %s", d.host)
	return nil
}

func (d *Desk) setSessionCookie(token string, maxAge int) {
	if d.client.Jar == nil {
		return
	}
	d.client.Jar.SetCookies(d.baseURL, []*http.Cookie{{
		Name:   sessionCookie,
		Value:  token,
		Path:   "/",
		MaxAge: maxAge,
	}})
}

// LoggedIn reports whether a session is held.
func (d *Desk) LoggedIn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != ""
}

// Username returns the user of the current session, or "" when logged out.
func (d *Desk) Username() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.username
}

func (d *Desk) sessionToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

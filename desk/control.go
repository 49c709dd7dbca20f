package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jc211/panda-desk/internal/tokenstore"
	"github.com/jc211/panda-desk/status"
)

// ControlToken proves operator control of a desk. ActiveToken returns it
// without the secret Token, which only the holder knows.
type ControlToken struct {
	ID      int64  `json:"id"`
	OwnedBy string `json:"ownedBy"`
	Token   string `json:"token,omitempty"`
}

// Empty reports whether t identifies no token.
func (t ControlToken) Empty() bool {
	return t.ID == 0 && t.Token == ""
}

func tokenFromStore(tok tokenstore.Token) (ControlToken, error) {
	if tok.ID == "" && tok.Token == "" {
		return ControlToken{}, nil
	}
	id, err := strconv.ParseInt(tok.ID, 10, 64)
	if err != nil {
		return ControlToken{}, fmt.Errorf("invalid token id %q: %w", tok.ID, err)
	}
	return ControlToken{ID: id, OwnedBy: tok.OwnedBy, Token: tok.Token}, nil
}

func (t ControlToken) stored() tokenstore.Token {
	return tokenstore.Token{
		ID:      strconv.FormatInt(t.ID, 10),
		OwnedBy: t.OwnedBy,
		Token:   t.Token,
	}
}

// HeldToken returns the control token this client holds, which may be
// stale if another user has since taken control.
func (d *Desk) HeldToken() ControlToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.control
}

func (d *Desk) setControl(tok ControlToken) {
	d.mu.Lock()
	d.control = tok
	d.mu.Unlock()

	if d.tokens == nil {
		return
	}
	var err error
	if tok.Empty() {
		err = d.tokens.Delete(d.host)
	} else {
		err = d.tokens.Save(d.host, tok.stored())
	}
	if err != nil {
		d.log.Warningf("Failed to update %s: %v", d.tokens.Path(), err)
	}
}

// ActiveToken returns the id and owner of the token currently in force on
// the desk. The result is Empty when nobody holds control.
func (d *Desk) ActiveToken(ctx context.Context) (ControlToken, error) {
	data, err := d.request(ctx, http.MethodGet, "/admin/api/control-token", nil, nil, d.requestTimeout)
	if err != nil {
		return ControlToken{}, classify(err, false)
	}
	var resp struct {
		ActiveToken *ControlToken `json:"activeToken"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return ControlToken{}, fmt.Errorf("desk: decoding active token: %w", err)
	}
	if resp.ActiveToken == nil {
		return ControlToken{}, nil
	}
	return ControlToken{ID: resp.ActiveToken.ID, OwnedBy: resp.ActiveToken.OwnedBy}, nil
}

// HasControl reports whether the token held by this client is the one in
// force on the desk.
func (d *Desk) HasControl(ctx context.Context) (bool, error) {
	active, err := d.ActiveToken(ctx)
	if err != nil {
		return false, err
	}
	held := d.HeldToken()
	return !active.Empty() && held.Token != "" && active.ID == held.ID, nil
}

// TakeControl acquires operator control. Without force it fails with
// ErrControl if another user holds control. With force the desk asks the
// operator to confirm by pressing circle on the pilot; TakeControl waits
// for that press for as long as the desk allows and fails with
// ErrControlTimeout if it does not come.
func (d *Desk) TakeControl(ctx context.Context, force bool) error {
	active, err := d.ActiveToken(ctx)
	if err != nil {
		return err
	}
	held := d.HeldToken()
	if !active.Empty() && held.Token != "" && active.ID == held.ID {
		d.log.Infof("Retaken control of %s", d.host)
		return nil
	}
	if !active.Empty() && !force {
		return fmt.Errorf("%w: held by %s", ErrControl, active.OwnedBy)
	}

	var (
		nav     *status.Channel
		timeout time.Duration
	)
	if force {
		// Subscribe before requesting so the confirming press cannot be missed.
		nav, err = d.OpenStatus(ctx, status.Navigation)
		if err != nil {
			return err
		}
		defer nav.Close()

		timeout, err = d.forceTimeout(ctx)
		if err != nil {
			return err
		}
	}

	path := "/admin/api/control-token/request"
	if force {
		path += "?force"
	}
	body := jsonBody{map[string]string{"requestedBy": d.Username()}}
	data, err := d.request(ctx, http.MethodPost, path, body, nil, d.requestTimeout)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && re.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %w", ErrControl, err)
		}
		return classify(err, false)
	}
	var tok ControlToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("desk: decoding control token: %w", err)
	}
	tok.OwnedBy = d.Username()

	if force {
		d.log.Noticef("Press the circle button on the pilot within %s to confirm control of %s", timeout, d.host)
		pressed, err := nav.WaitForPress(ctx, status.Circle, timeout)
		if err != nil {
			return err
		}
		if !pressed {
			return ErrControlTimeout
		}
	}

	d.setControl(tok)
	d.log.Infof("Taken control of %s (token %d)", d.host, tok.ID)
	return nil
}

// forceTimeout reads how long the desk waits for a forced takeover to be
// confirmed.
func (d *Desk) forceTimeout(ctx context.Context) (time.Duration, error) {
	data, err := d.request(ctx, http.MethodGet, "/admin/api/safety", nil, nil, d.requestTimeout)
	if err != nil {
		return 0, classify(err, false)
	}
	var resp struct {
		TokenForceTimeout *float64 `json:"tokenForceTimeout"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("desk: decoding safety settings: %w", err)
	}
	if resp.TokenForceTimeout == nil {
		return 0, fmt.Errorf("desk: safety settings carry no tokenForceTimeout")
	}
	if *resp.TokenForceTimeout <= 0 {
		return 0, fmt.Errorf("desk: invalid tokenForceTimeout %v", *resp.TokenForceTimeout)
	}
	return time.Duration(*resp.TokenForceTimeout * float64(time.Second)), nil
}

// ReleaseControl hands the held control token back to the desk.
func (d *Desk) ReleaseControl(ctx context.Context) error {
	held := d.HeldToken()
	if held.Token == "" {
		return fmt.Errorf("%w: no control token held", ErrPermission)
	}
	body := jsonBody{map[string]string{"token": held.Token}}
	if _, err := d.request(ctx, http.MethodDelete, "/admin/api/control-token", body, nil, d.requestTimeout); err != nil {
		return classify(err, false)
	}
	d.setControl(ControlToken{})
	d.log.Infof("Released control of %s", d.host)
	return nil
}

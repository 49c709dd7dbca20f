package desk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jc211/panda-desk/status"
)

// heldToken returns the control token or ErrPermission when there is none.
func (d *Desk) heldToken(op string) (ControlToken, error) {
	tok := d.HeldToken()
	if tok.Token == "" {
		return ControlToken{}, fmt.Errorf("%w: %s requires control, call TakeControl first", ErrPermission, op)
	}
	return tok, nil
}

// Lock closes the brakes of all joints and waits until the safety status
// confirms it. force is passed through to the desk.
func (d *Desk) Lock(ctx context.Context, force bool) error {
	return d.setBrakes(ctx, true, force)
}

// Unlock opens the brakes of all joints and waits until the safety status
// confirms it. Unlocking an unlocked robot succeeds at once.
func (d *Desk) Unlock(ctx context.Context, force bool) error {
	return d.setBrakes(ctx, false, force)
}

func (d *Desk) setBrakes(ctx context.Context, lock, force bool) error {
	op, target := "unlock", status.Unlocked
	if lock {
		op, target = "lock", status.Locked
	}
	tok, err := d.heldToken(op)
	if err != nil {
		return err
	}

	safety, err := d.OpenStatus(ctx, status.Safety)
	if err != nil {
		return err
	}
	defer safety.Close()

	forceField := "False"
	if force {
		forceField = "True"
	}
	path := d.platform.brakePath(lock)
	body := formFiles{"force": forceField}
	if _, err := d.request(ctx, http.MethodPost, path, body, controlHeader(tok), d.longRequestTimeout); err != nil {
		return classify(err, true)
	}

	ok, err := safety.WaitForJoints(ctx, target, d.longRequestTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: joints did not become %s within %s", ErrState, target, d.longRequestTimeout)
	}
	d.log.Infof("Joints %s", target)
	return nil
}

// SetMode switches the operating mode. Only FR3 has operating modes.
func (d *Desk) SetMode(ctx context.Context, mode Mode) error {
	if err := d.platform.supportsMode(mode); err != nil {
		return err
	}
	tok, err := d.heldToken("setting the operating mode")
	if err != nil {
		return err
	}
	path := "/desk/api/operating-mode/" + string(mode)
	if _, err := d.request(ctx, http.MethodPost, path, nil, controlHeader(tok), d.longRequestTimeout); err != nil {
		return classify(err, true)
	}
	d.log.Infof("Operating mode set to %s", mode)
	return nil
}

// ActivateFCI enables the Franka Control Interface. The desk refuses while
// the brakes are closed, which surfaces as ErrState.
func (d *Desk) ActivateFCI(ctx context.Context) error {
	return d.fci(ctx, http.MethodPost)
}

// DeactivateFCI disables the Franka Control Interface.
func (d *Desk) DeactivateFCI(ctx context.Context) error {
	return d.fci(ctx, http.MethodDelete)
}

func (d *Desk) fci(ctx context.Context, method string) error {
	tok, err := d.heldToken("FCI")
	if err != nil {
		return err
	}
	body := jsonBody{map[string]string{"token": tok.Token}}
	if _, err := d.request(ctx, method, "/admin/api/control-token/fci", body, nil, d.requestTimeout); err != nil {
		return classify(err, true)
	}
	if method == http.MethodPost {
		d.log.Info("FCI activated")
	} else {
		d.log.Info("FCI deactivated")
	}
	return nil
}

// Reboot restarts the robot controller. The session does not survive it.
func (d *Desk) Reboot(ctx context.Context) error {
	tok, err := d.heldToken("reboot")
	if err != nil {
		return err
	}
	if _, err := d.request(ctx, http.MethodPost, "/admin/api/reboot", nil, controlHeader(tok), d.requestTimeout); err != nil {
		return classify(err, false)
	}
	d.log.Notice("Rebooting")
	return nil
}

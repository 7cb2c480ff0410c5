package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/store"
)

// UserGetter loads a user.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Eligibility re-checks at dispatch time what generation checked: the user
// exists, has autonomous jobs enabled, and was active within the window.
type Eligibility struct {
	Users        UserGetter
	ActiveWithin time.Duration
	Now          func() time.Time
}

// Check implements executor.Precondition.
func (e Eligibility) Check(ctx context.Context, job models.Job) (bool, string, error) {
	u, err := e.Users.GetUser(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "user no longer exists", nil
	}
	if err != nil {
		return false, "", err
	}
	if !u.AutonomousEnabled {
		return false, "autonomous mode disabled", nil
	}
	if e.ActiveWithin > 0 {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		if now().Sub(u.LastActiveAt) > e.ActiveWithin {
			return false, fmt.Sprintf("user inactive since %s", u.LastActiveAt.Format(time.RFC3339)), nil
		}
	}
	return true, "", nil
}

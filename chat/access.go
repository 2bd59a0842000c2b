package chat

import (
	"context"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/errs"
)

// authorize allows id to touch convID only if convID is in id's membership
// list. The list is read on every call.
func (s *Service) authorize(ctx context.Context, id auth.Identity, convID string) error {
	if id.Username == "" {
		return errs.ErrUnauthenticated
	}

	ids, err := s.users.ListMemberships(ctx, id.Username)
	if err != nil {
		return err
	}
	for _, v := range ids {
		if v == convID {
			return nil
		}
	}

	glog.Warningf("access denied: user %s is not a participant of %q", id.Username, convID)
	return errs.ErrForbidden
}

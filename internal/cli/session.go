package cli

import (
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/config"
	"github.com/rarimo/swap-svc/internal/session"
)

// loadSession restores a session from its state file, seeding a fresh one
// from the config section on first run. The config must agree with a
// restored state on role and addresses so a session cannot silently switch
// sides between runs.
func loadSession(info *config.SessionInfo, initialStatus string) (*session.State, *session.Store, error) {
	role := session.Role(info.Role)
	if role != session.RoleBuyer && role != session.RoleSeller {
		return nil, nil, errors.New("unknown role " + info.Role)
	}

	store := session.NewStore(info.StateFile)
	state, err := store.Load()
	if err != nil {
		return nil, nil, err
	}

	if state == nil {
		state = &session.State{
			Role:        role,
			Status:      initialStatus,
			MyAddress:   info.MyAddress,
			PeerAddress: info.PeerAddress,
			MyAssetID:   info.MyAssetID,
			MyAmount:    info.MyAmount,
			PeerAssetID: info.PeerAssetID,
			PeerAmount:  info.PeerAmount,
			AppID:       info.AppID,
			FundAmount:  info.FundAmount,
		}
		if err := store.Save(state); err != nil {
			return nil, nil, err
		}
		return state, store, nil
	}

	if state.Role != role {
		return nil, nil, errors.New("state file belongs to role " + string(state.Role) + ", config says " + info.Role)
	}
	if state.MyAddress != info.MyAddress || state.PeerAddress != info.PeerAddress {
		return nil, nil, errors.New("state file belongs to a different address pair")
	}
	return state, store, nil
}

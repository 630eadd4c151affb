package channel

//go:generate go tool mockgen -source=copilot_sdk.go -destination=copilot_sdk_mocks_test.go -package=channel

import (
	"context"

	copilot "github.com/github/copilot-sdk/go"
)

// sdkSession is the part of [*copilot.Session] a CopilotChannel drives.
type sdkSession interface {
	On(handler copilot.SessionEventHandler) func()
	SendAndWait(ctx context.Context, options copilot.MessageOptions) (*copilot.SessionEvent, error)
	SessionID() string
}

// sdkClient is the part of [*copilot.Client] a CopilotFactory drives. One
// client is shared by every channel the factory opens.
type sdkClient interface {
	Start(ctx context.Context) error
	CreateSession(ctx context.Context, config *copilot.SessionConfig) (sdkSession, error)
	Stop() error
}

func newSDKClient(opts *copilot.ClientOptions) sdkClient {
	return sdkClientAdapter{copilot.NewClient(opts)}
}

type sdkClientAdapter struct {
	*copilot.Client
}

func (a sdkClientAdapter) CreateSession(ctx context.Context, config *copilot.SessionConfig) (sdkSession, error) {
	s, err := a.Client.CreateSession(ctx, config)
	if err != nil {
		return nil, err
	}
	return sdkSessionAdapter{s}, nil
}

// sdkSessionAdapter exposes the SessionID field as a method.
type sdkSessionAdapter struct {
	*copilot.Session
}

func (a sdkSessionAdapter) SessionID() string {
	return a.Session.SessionID
}
